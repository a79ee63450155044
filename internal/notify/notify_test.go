package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

func TestReporter_Error(t *testing.T) {
	rec := &Recorder{}
	r := NewReporter(rec, i18n.NewPrinter("en"), logger.Discard())

	r.Error(domainerrors.ErrOffline)
	r.Error(domainerrors.WriteFailed(fmt.Errorf("boom"), "patch data/books"))
	r.Error(domainerrors.Validation("bad"))
	r.Error(fmt.Errorf("plain"))
	r.Error(nil)

	msgs := rec.Messages()
	assert.Len(t, msgs, 4)
	assert.Equal(t, "Device not connected", msgs[0].Text)
	assert.Equal(t, "Your change could not be saved", msgs[1].Text)
	assert.Equal(t, Long, msgs[2].Duration)
	assert.Equal(t, "An error occurred", msgs[3].Text)
}

func TestReporter_Info(t *testing.T) {
	rec := &Recorder{}
	r := NewReporter(rec, i18n.NewPrinter("fr"), logger.Discard())

	r.Info(i18n.NoResults)

	assert.Equal(t, []string{"Aucun résultat"}, rec.Texts())
	assert.Equal(t, 1, rec.Count("Aucun résultat"))
}

func TestKeyFor_DistinguishesTimeoutFromFailure(t *testing.T) {
	assert.Equal(t, i18n.TimeOut, KeyFor(domainerrors.CodeTimedOut))
	assert.NotEqual(t, KeyFor(domainerrors.CodeTimedOut), KeyFor(domainerrors.CodeInternal))
}
