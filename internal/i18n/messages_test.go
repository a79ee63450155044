package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestNewPrinter_Matching(t *testing.T) {
	tests := []struct {
		locale string
		want   language.Tag
	}{
		{"en", language.English},
		{"en-GB", language.English},
		{"fr-CA", language.French},
		{"de", language.English},
		{"not a locale", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, NewPrinter(tt.locale).Language())
		})
	}
}

func TestPrinter_Sprintf(t *testing.T) {
	en := NewPrinter("en")
	fr := NewPrinter("fr")

	assert.Equal(t, "Device not connected", en.Sprintf(DeviceNotConnected))
	assert.Equal(t, "Appareil non connecté", fr.Sprintf(DeviceNotConnected))
	assert.Equal(t, "Dune was added", en.Sprintf(BookAdded, "Dune"))
	assert.Equal(t, "Please fill out all the required fields!", en.Sprintf(FillRequiredFields))
}

func TestCatalog_EveryKeyTranslated(t *testing.T) {
	for key := range catalog[language.English] {
		assert.Contains(t, catalog[language.French], key, "missing french message for %s", key)
	}
}
