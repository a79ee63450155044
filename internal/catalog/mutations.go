package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/id"
	"github.com/heybooks/heybooks-sync/internal/replica"
)

// step is one background write. Steps on the same lane run in order.
type step struct {
	lane string
	run  func(context.Context) error
	set  func(*Outcome, error)
}

func setUpload(o *Outcome, err error)  { o.Upload = errors.Join(o.Upload, err) }
func setGlobal(o *Outcome, err error)  { o.Global = errors.Join(o.Global, err) }
func setOwner(o *Outcome, err error)   { o.Owner = errors.Join(o.Owner, err) }
func setCleanup(o *Outcome, err error) { o.Cleanup = errors.Join(o.Cleanup, err) }

func assetLane(identity domain.Identity) string {
	return "assets/" + identity.UserID
}

// AddOrRemoveBook unions or removes book in both replicas. The two writes
// are independent and their outcomes are reported separately.
func (s *Synchronizer) AddOrRemoveBook(ctx context.Context, book domain.Book, action domain.Action) (*Pending, error) {
	identity, err := s.authorize(ctx, book)
	if err != nil {
		return nil, err
	}
	if action == domain.Add {
		if err := s.validate(book); err != nil {
			return nil, err
		}
	}

	key := i18n.BookAdded
	if action == domain.Remove {
		key = i18n.BookRemoved
	}

	p := newPending()
	s.fanOut(ctx, p, s.patchBoth(identity, replica.OpFor(action), book), func() {
		s.complete(p, key, book.Title)
	})
	s.logger.Info("book mutation submitted", "book_id", book.ID, "action", action.String())
	return p, nil
}

// CreateBook turns a validated form into a new book owned by the signed-in
// user, adds it to both replicas and relocates its picture.
func (s *Synchronizer) CreateBook(ctx context.Context, form domain.BookForm) (*Pending, error) {
	if err := s.gate.Require(ctx); err != nil {
		return nil, err
	}
	identity, err := s.session.RequireVerified()
	if err != nil {
		s.reporter.Error(err)
		return nil, err
	}
	if err := s.validate(form); err != nil {
		return nil, err
	}

	bookID, err := id.Generate(id.PrefixBook)
	if err != nil {
		err = domainerrors.Wrap(err, domainerrors.CodeInternal, "generate book id")
		s.reporter.Error(err)
		return nil, err
	}
	book := form.Book(bookID, identity.UserID)

	fileName := form.PictureName
	if fileName == "" {
		fileName = "cover.jpg"
	}
	dest := assets.BookPicturePath(identity, bookID+"-"+fileName)
	picture := bytes.Clone(form.Picture)

	var url string
	steps := append(s.patchBoth(identity, replica.Union, book), step{
		lane: assetLane(identity),
		run: func(ctx context.Context) error {
			u, err := s.relocator.Upload(ctx, bytes.NewReader(picture), dest)
			url = u
			return err
		},
		set: setUpload,
	})

	p := newPending()
	s.fanOut(ctx, p, steps, func() {
		o := p.Outcome()
		if o.Upload != nil || (o.Global != nil && o.Owner != nil) {
			s.complete(p, i18n.BookAdded, book.Title)
			return
		}
		withThumb := book
		withThumb.ThumbnailURL = url
		s.fanOut(ctx, p, s.replaceBoth(identity, withThumb), func() {
			s.complete(p, i18n.BookAdded, book.Title)
		})
	})
	s.logger.Info("book creation submitted", "book_id", bookID, "owner_id", identity.UserID)
	return p, nil
}

// DeleteBook removes book from both replicas, then deletes its picture if
// the signed-in user owns it and both removals succeeded.
func (s *Synchronizer) DeleteBook(ctx context.Context, book domain.Book) (*Pending, error) {
	identity, err := s.authorize(ctx, book)
	if err != nil {
		return nil, err
	}

	p := newPending()
	s.fanOut(ctx, p, s.patchBoth(identity, replica.Remove, book), func() {
		o := p.Outcome()
		old, owned := s.relocator.Owned(book.ThumbnailURL, identity.UserID)
		if o.Global != nil || o.Owner != nil || !owned {
			s.complete(p, i18n.BookRemoved, book.Title)
			return
		}
		s.fanOut(ctx, p, []step{s.cleanupStep(identity, old)}, func() {
			s.complete(p, i18n.BookRemoved, book.Title)
		})
	})
	return p, nil
}

// RelocateBookThumbnail uploads a new picture for book, points both replicas
// at it and deletes the previous picture.
//
// Each replica swaps the element in one keyed replace, so a concurrent
// delete cannot be undone by a stale reinsert. If the book was deleted
// meanwhile the replace is a no-op and the new picture is left orphaned.
func (s *Synchronizer) RelocateBookThumbnail(ctx context.Context, book domain.Book, picture []byte, fileName string) (*Pending, error) {
	identity, err := s.authorize(ctx, book)
	if err != nil {
		return nil, err
	}
	if len(picture) == 0 {
		err := domainerrors.Validation("picture is required")
		s.reporter.Error(err)
		return nil, err
	}

	dest := assets.BookPicturePath(identity, book.ID+"-"+fileName)
	picture = bytes.Clone(picture)
	var url string

	p := newPending()
	upload := step{
		lane: assetLane(identity),
		run: func(ctx context.Context) error {
			u, err := s.relocator.Upload(ctx, bytes.NewReader(picture), dest)
			url = u
			return err
		},
		set: setUpload,
	}
	s.fanOut(ctx, p, []step{upload}, func() {
		if p.Outcome().Upload != nil {
			s.complete(p, i18n.BookUpdated, book.Title)
			return
		}
		updated := book
		updated.ThumbnailURL = url
		s.fanOut(ctx, p, s.replaceBoth(identity, updated), func() {
			o := p.Outcome()
			old, owned := s.relocator.Owned(book.ThumbnailURL, identity.UserID)
			if o.Global != nil || o.Owner != nil || !owned || book.ThumbnailURL == url {
				s.complete(p, i18n.BookUpdated, book.Title)
				return
			}
			s.fanOut(ctx, p, []step{s.cleanupStep(identity, old)}, func() {
				s.complete(p, i18n.BookUpdated, book.Title)
			})
		})
	})
	return p, nil
}

// UpdateProfileDetails writes the name and bio of the signed-in user.
func (s *Synchronizer) UpdateProfileDetails(ctx context.Context, details domain.ProfileDetails) (*Pending, error) {
	if err := s.gate.Require(ctx); err != nil {
		return nil, err
	}
	identity, err := s.session.RequireIdentity()
	if err != nil {
		s.reporter.Error(err)
		return nil, err
	}
	if err := s.validate(details); err != nil {
		return nil, err
	}

	addr := replica.ProfileAddress(identity)
	p := newPending()
	s.fanOut(ctx, p, []step{{
		lane: addr.String(),
		run: func(ctx context.Context) error {
			return s.replica.SetFields(ctx, addr, map[string]any{
				domain.FieldName: details.Name,
				domain.FieldBio:  details.Bio,
			})
		},
		set: setOwner,
	}}, func() {
		s.complete(p, i18n.ProfileUpdated)
	})
	return p, nil
}

// RelocateProfilePicture uploads a new profile picture, stores its URL in the
// profile and deletes the previous one.
func (s *Synchronizer) RelocateProfilePicture(ctx context.Context, picture []byte, fileName string) (*Pending, error) {
	if err := s.gate.Require(ctx); err != nil {
		return nil, err
	}
	identity, err := s.session.RequireIdentity()
	if err != nil {
		s.reporter.Error(err)
		return nil, err
	}
	if len(picture) == 0 {
		err := domainerrors.Validation("picture is required")
		s.reporter.Error(err)
		return nil, err
	}

	dest := assets.ProfilePicturePath(identity, fileName)
	picture = bytes.Clone(picture)
	addr := replica.ProfileAddress(identity)
	var url, previous string

	p := newPending()
	upload := step{
		lane: assetLane(identity),
		run: func(ctx context.Context) error {
			u, err := s.relocator.Upload(ctx, bytes.NewReader(picture), dest)
			url = u
			return err
		},
		set: setUpload,
	}
	s.fanOut(ctx, p, []step{upload}, func() {
		if p.Outcome().Upload != nil {
			s.complete(p, i18n.ProfileUpdated)
			return
		}
		setImage := step{
			lane: addr.String(),
			run: func(ctx context.Context) error {
				previous = s.profileImage(ctx, addr)
				return s.replica.SetFields(ctx, addr, map[string]any{domain.FieldImage: url})
			},
			set: setOwner,
		}
		s.fanOut(ctx, p, []step{setImage}, func() {
			old, owned := s.relocator.Owned(previous, identity.UserID)
			if p.Outcome().Owner != nil || !owned || previous == url {
				s.complete(p, i18n.ProfileUpdated)
				return
			}
			s.fanOut(ctx, p, []step{s.cleanupStep(identity, old)}, func() {
				s.complete(p, i18n.ProfileUpdated)
			})
		})
	})
	return p, nil
}

// profileImage returns the picture URL stored in the profile at addr. The
// cache is used when the profile is subscribed, otherwise the store is read.
func (s *Synchronizer) profileImage(ctx context.Context, addr docstore.Address) string {
	if st := s.State(); st.Load(ProfileListing) == domain.Loaded && st.Profile.UserID == addr.ID {
		return st.Profile.Image
	}
	snap, err := s.replica.ReadOnce(ctx, addr)
	if err != nil {
		if !errors.Is(err, domainerrors.ErrNotFound) {
			s.logger.Warn("could not read previous profile picture", "address", addr.String(), "error", err)
		}
		return ""
	}
	var user domain.User
	if err := snap.Decode(&user); err != nil {
		s.logger.Warn("could not decode profile", "address", addr.String(), "error", err)
		return ""
	}
	return user.Image
}

// authorize runs the preconditions shared by book mutations: connectivity,
// a verified identity, and ownership of the book.
func (s *Synchronizer) authorize(ctx context.Context, book domain.Book) (domain.Identity, error) {
	if err := s.gate.Require(ctx); err != nil {
		return domain.Identity{}, err
	}
	identity, err := s.session.RequireVerified()
	if err != nil {
		s.reporter.Error(err)
		return domain.Identity{}, err
	}
	if book.OwnerID != identity.UserID {
		err := domainerrors.Forbiddenf("book %s belongs to another user", book.ID)
		s.reporter.Error(err)
		return domain.Identity{}, err
	}
	return identity, nil
}

func (s *Synchronizer) validate(v any) error {
	if err := s.validator.Validate(v); err != nil {
		s.reporter.Error(err)
		return err
	}
	return nil
}

// patchBoth is the dual write: one array patch per replica, on separate lanes.
func (s *Synchronizer) patchBoth(identity domain.Identity, op replica.ArrayOp, book domain.Book) []step {
	return s.both(identity, func(ctx context.Context, addr docstore.Address) error {
		return s.replica.PatchArrayField(ctx, addr, domain.FieldListOfBooks, op, book)
	})
}

func (s *Synchronizer) replaceBoth(identity domain.Identity, book domain.Book) []step {
	return s.both(identity, func(ctx context.Context, addr docstore.Address) error {
		return s.replica.ReplaceArrayElement(ctx, addr, domain.FieldListOfBooks, domain.BookKey, book)
	})
}

func (s *Synchronizer) both(identity domain.Identity, write func(context.Context, docstore.Address) error) []step {
	global := replica.CatalogAddress()
	owner := replica.ProfileAddress(identity)
	return []step{
		{lane: global.String(), run: func(ctx context.Context) error { return write(ctx, global) }, set: setGlobal},
		{lane: owner.String(), run: func(ctx context.Context) error { return write(ctx, owner) }, set: setOwner},
	}
}

func (s *Synchronizer) cleanupStep(identity domain.Identity, old assets.Path) step {
	return step{
		lane: assetLane(identity),
		run:  func(ctx context.Context) error { return s.relocator.Delete(ctx, old) },
		set:  setCleanup,
	}
}

// fanOut submits every step on its lane and calls then once all have finished.
// The writes outlive ctx's cancellation; nothing is retried.
func (s *Synchronizer) fanOut(ctx context.Context, p *Pending, steps []step, then func()) {
	ctx = context.WithoutCancel(ctx)

	var remaining atomic.Int32
	remaining.Store(int32(len(steps)))
	for _, st := range steps {
		finish := func(err error) {
			p.record(func(o *Outcome) { st.set(o, err) })
			if remaining.Add(-1) == 0 {
				then()
			}
		}
		if err := s.pool.Submit(st.lane, func() { finish(s.runStep(ctx, st)) }); err != nil {
			finish(err)
		}
	}
}

// runStep runs st, turning a panic into a failed step so the mutation still settles.
func (s *Synchronizer) runStep(ctx context.Context, st step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background write panicked",
				"lane", st.lane,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = domainerrors.Internal("background write failed")
		}
	}()
	return st.run(ctx)
}

// complete reports every failed step, or the success message, on the
// dispatcher and then releases waiters.
func (s *Synchronizer) complete(p *Pending, success i18n.Key, args ...any) {
	o := p.Outcome()
	s.post(func() {
		defer p.finish()

		failed := false
		for _, err := range []error{o.Upload, o.Global, o.Owner} {
			if err != nil {
				failed = true
				s.reporter.Error(err)
			}
		}
		if !failed {
			s.reporter.Info(success, args...)
		}
		// Cleanup is best effort: the mutation itself already succeeded.
		s.reporter.Error(o.Cleanup)
	})
}
