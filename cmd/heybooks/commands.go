package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/docopt/docopt-go"

	"github.com/heybooks/heybooks-sync/internal/catalog"
	"github.com/heybooks/heybooks-sync/internal/di"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

type cli struct {
	client *di.Client
	sync   *catalog.Synchronizer
	opts   docopt.Opts
	out    io.Writer
}

func newCLI(client *di.Client, opts docopt.Opts) *cli {
	return &cli{
		client: client,
		sync:   client.Synchronizer.Synchronizer,
		opts:   opts,
		out:    os.Stdout,
	}
}

func (c *cli) credentials() domain.Credentials {
	creds := domain.Credentials{
		Email:    optString(c.opts, "--email"),
		Password: optString(c.opts, "--password"),
	}
	if creds.Email == "" {
		creds.Email = os.Getenv("HEYBOOKS_EMAIL")
	}
	if creds.Password == "" {
		creds.Password = os.Getenv("HEYBOOKS_PASSWORD")
	}
	return creds
}

// signIn authenticates with the configured credentials. With allowUnverified
// an unverified account stays signed in without failing the command.
func (c *cli) signIn(ctx context.Context, allowUnverified bool) (domain.Identity, error) {
	err := c.client.Session.SignIn(ctx, c.credentials())
	if err != nil && !(allowUnverified && errors.Is(err, domainerrors.ErrEmailNotVerified)) {
		return domain.Identity{}, err
	}
	return c.client.Session.RequireIdentity()
}

// await subscribes with open and blocks until l has loaded.
func (c *cli) await(ctx context.Context, l catalog.Listing, open func(context.Context) error) (catalog.State, error) {
	states, cancel := c.sync.Watch()
	defer cancel()

	if err := open(ctx); err != nil {
		return catalog.State{}, err
	}
	for {
		select {
		case st := <-states:
			switch st.Load(l) {
			case domain.Loaded:
				return st, nil
			case domain.Error:
				return st, fmt.Errorf("%s listing failed to load", l)
			}
		case <-ctx.Done():
			return catalog.State{}, ctx.Err()
		}
	}
}

func (c *cli) catalogState(ctx context.Context) (catalog.State, error) {
	return c.await(ctx, catalog.CatalogListing, c.sync.SubscribeCatalog)
}

func (c *cli) findBook(ctx context.Context) (domain.Book, error) {
	st, err := c.catalogState(ctx)
	if err != nil {
		return domain.Book{}, err
	}
	bookID := optString(c.opts, "<book_id>")
	book, ok := st.Book(bookID)
	if !ok {
		return domain.Book{}, domainerrors.NotFound("book " + bookID + " is not in the catalog")
	}
	return book, nil
}

// settle waits for a mutation and reports a split between the replicas.
func (c *cli) settle(ctx context.Context, pending *catalog.Pending) error {
	outcome, err := pending.Wait(ctx)
	if err != nil {
		return err
	}
	if !outcome.Consistent() {
		fmt.Fprintln(c.out, "warning: the catalog and the profile now disagree; run the command again")
	}
	return outcome.Err()
}

func (c *cli) printBooks(books []domain.Book) {
	if len(books) == 0 {
		fmt.Fprintln(c.out, "No books.")
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAUTHORS\tCATEGORIES\tPAGES\tOWNER")
	for _, b := range books {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			b.ID, b.Title, b.Authors, strings.Join(b.Categories, ", "), b.PageCount, b.OwnerID)
	}
	_ = w.Flush()
}

func (c *cli) printProfile(u domain.User) {
	fmt.Fprintf(c.out, "%s <%s>\n", u.Name, u.Email)
	if u.Bio != "" {
		fmt.Fprintln(c.out, u.Bio)
	}
	if u.Image != "" {
		fmt.Fprintf(c.out, "Picture: %s\n", u.Image)
	}
	fmt.Fprintln(c.out)
	c.printBooks(u.ListOfBooks)
}

func (c *cli) register(ctx context.Context) error {
	creds := c.credentials()
	return c.client.Session.Register(ctx, domain.Registration{
		Name:     optString(c.opts, "--name"),
		Email:    creds.Email,
		Password: creds.Password,
	})
}

func (c *cli) verify(ctx context.Context) error {
	identity, err := c.client.Remote.Auth.ConfirmVerification(ctx, optString(c.opts, "<token>"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s is verified\n", identity.Email)
	return nil
}

func (c *cli) resendVerification(ctx context.Context) error {
	if _, err := c.signIn(ctx, true); err != nil {
		return err
	}
	return c.client.Session.ResendVerification(ctx)
}

func (c *cli) resetPassword(ctx context.Context) error {
	return c.client.Session.ResetPassword(ctx, domain.PasswordReset{Email: c.credentials().Email})
}

func (c *cli) confirmReset(ctx context.Context) error {
	return c.client.Remote.Auth.ConfirmPasswordReset(ctx, optString(c.opts, "<token>"), optString(c.opts, "--new-password"))
}

func (c *cli) list(ctx context.Context) error {
	st, err := c.catalogState(ctx)
	if err != nil {
		return err
	}
	if category := optString(c.opts, "--category"); category != "" {
		c.printBooks(st.InCategory(category))
		return nil
	}
	c.printBooks(st.Books)
	return nil
}

func (c *cli) search(ctx context.Context) error {
	if _, err := c.catalogState(ctx); err != nil {
		return err
	}
	books, err := c.sync.Search(ctx, optString(c.opts, "<query>"))
	if err != nil {
		return err
	}
	c.printBooks(books)
	return nil
}

func (c *cli) mine(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	st, err := c.await(ctx, catalog.ProfileListing, c.sync.SubscribeProfile)
	if err != nil {
		return err
	}
	c.printProfile(st.Profile)
	return nil
}

func (c *cli) owner(ctx context.Context) error {
	userID := optString(c.opts, "<user_id>")
	st, err := c.await(ctx, catalog.OwnerListing, func(ctx context.Context) error {
		return c.sync.SubscribeOwner(ctx, userID)
	})
	if err != nil {
		return err
	}
	c.printProfile(st.Owner)
	return nil
}

func (c *cli) add(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	file := optString(c.opts, "--picture")
	picture, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	var categories []string
	for _, cat := range strings.Split(optString(c.opts, "--categories"), ",") {
		if cat = strings.TrimSpace(cat); cat != "" {
			categories = append(categories, cat)
		}
	}

	pending, err := c.sync.CreateBook(ctx, domain.BookForm{
		Title:       optString(c.opts, "--title"),
		Authors:     optString(c.opts, "--authors"),
		Categories:  categories,
		Description: optString(c.opts, "--description"),
		PageCount:   optString(c.opts, "--pages"),
		Picture:     picture,
		PictureName: filepath.Base(file),
	})
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

func (c *cli) remove(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	book, err := c.findBook(ctx)
	if err != nil {
		return err
	}
	pending, err := c.sync.AddOrRemoveBook(ctx, book, domain.Remove)
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

func (c *cli) deleteBook(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	book, err := c.findBook(ctx)
	if err != nil {
		return err
	}
	pending, err := c.sync.DeleteBook(ctx, book)
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

func (c *cli) cover(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	book, err := c.findBook(ctx)
	if err != nil {
		return err
	}
	file := optString(c.opts, "<file>")
	picture, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	pending, err := c.sync.RelocateBookThumbnail(ctx, book, picture, filepath.Base(file))
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

func (c *cli) profile(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	st, err := c.await(ctx, catalog.ProfileListing, c.sync.SubscribeProfile)
	if err != nil {
		return err
	}

	details := domain.ProfileDetails{Name: st.Profile.Name, Bio: st.Profile.Bio}
	if name := optString(c.opts, "--name"); name != "" {
		details.Name = name
	}
	if bio, err := c.opts.String("--bio"); err == nil {
		details.Bio = bio
	}
	pending, err := c.sync.UpdateProfileDetails(ctx, details)
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

func (c *cli) avatar(ctx context.Context) error {
	if _, err := c.signIn(ctx, false); err != nil {
		return err
	}
	file := optString(c.opts, "<file>")
	picture, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	pending, err := c.sync.RelocateProfilePicture(ctx, picture, filepath.Base(file))
	if err != nil {
		return err
	}
	return c.settle(ctx, pending)
}

// watch prints the catalog every time it changes, until interrupted.
func (c *cli) watch(ctx context.Context) error {
	states, cancel := c.sync.Watch()
	defer cancel()

	if err := c.sync.SubscribeCatalog(ctx); err != nil {
		return err
	}
	var last []domain.Book
	for {
		select {
		case st := <-states:
			if st.Load(catalog.CatalogListing) != domain.Loaded || sameBooks(last, st.Books) {
				continue
			}
			last = st.Books
			fmt.Fprintf(c.out, "--- %d books\n", len(st.Books))
			c.printBooks(st.Books)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sameBooks(a, b []domain.Book) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
