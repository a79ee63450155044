// Package main provides a tool to seed the emulator with demo accounts and books.
//
// It creates verified accounts with profile documents and files sample books
// into both the global catalog and each owner's profile. Stop catalogd first;
// the stores are opened directly.
//
// Usage:
//
//	go run ./cmd/seed -data-path ~/.heybooks/catalogd
//	go run ./cmd/seed -data-path ~/.heybooks/catalogd -- -password hunter22 -books 5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/samber/do/v2"

	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/di"
	"github.com/heybooks/heybooks-sync/internal/di/providers"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/id"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/replica"
)

type demoUser struct {
	Name string
	Bio  string
}

var demoUsers = []demoUser{
	{Name: "Ada Lovelace", Bio: "Collects first editions."},
	{Name: "Grace Hopper", Bio: "Mostly science fiction."},
	{Name: "Alan Turing", Bio: ""},
}

var sampleBooks = []domain.Book{
	{Title: "Dune", Authors: "Frank Herbert", Categories: []string{"Science Fiction"}, PageCount: 412},
	{Title: "Emma", Authors: "Jane Austen", Categories: []string{"Classics", "Romance"}, PageCount: 474},
	{Title: "The Hobbit", Authors: "J. R. R. Tolkien", Categories: []string{"Fantasy", "Action and Adventure"}, PageCount: 310},
	{Title: "The Hound of the Baskervilles", Authors: "Arthur Conan Doyle", Categories: []string{"Detective and Mystery"}, PageCount: 256},
	{Title: "Dracula", Authors: "Bram Stoker", Categories: []string{"Horror", "Classics"}, PageCount: 418},
	{Title: "Neuromancer", Authors: "William Gibson", Categories: []string{"Science Fiction", "Thriller"}, PageCount: 271},
	{Title: "Wolf Hall", Authors: "Hilary Mantel", Categories: []string{"Historical"}, PageCount: 653},
	{Title: "Long Walk to Freedom", Authors: "Nelson Mandela", Categories: []string{"Biography"}, PageCount: 656},
	{Title: "Watchmen", Authors: "Alan Moore", Categories: []string{"Comic Book"}, PageCount: 416},
}

func main() {
	cfg, err := config.LoadConfig("seed", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	password := fs.String("password", "password1", "Password for every demo account")
	perUser := fs.Int("books", 3, "Books filed per demo account")
	_ = fs.Parse(cfg.Args)

	fmt.Printf("Seeding emulator data at: %s\n", cfg.Store.DataPath)

	// The server graph without its HTTP listener.
	injector := di.NewServerContainer(cfg)
	defer func() { _ = injector.Shutdown() }()

	svc := do.MustInvoke[*auth.Service](injector)
	accounts := do.MustInvoke[*providers.AccountStoreHandle](injector)
	docs := do.MustInvoke[*providers.DocumentStoreHandle](injector)
	client := replica.NewClient(docs.Store, logger.Discard())

	ctx := context.Background()
	created := 0
	filed := 0

	for _, u := range demoUsers {
		email := strings.ToLower(strings.ReplaceAll(u.Name, " ", ".")) + "@example.com"

		grant, err := svc.Register(ctx, domain.Registration{Name: u.Name, Email: email, Password: *password})
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			fmt.Printf("  %s already exists, skipping\n", email)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to register %s: %v", email, err)
		}
		identity := grant.Identity

		if err := accounts.MarkVerified(ctx, identity.UserID, time.Now()); err != nil {
			log.Fatalf("Failed to verify %s: %v", email, err)
		}

		profile := domain.User{
			UserID:      identity.UserID,
			Name:        u.Name,
			Email:       email,
			Bio:         u.Bio,
			ListOfBooks: []domain.Book{},
		}
		if err := client.Create(ctx, replica.ProfileAddress(identity), profile); err != nil {
			log.Fatalf("Failed to create profile for %s: %v", email, err)
		}
		created++

		for _, i := range rand.Perm(len(sampleBooks))[:min(*perUser, len(sampleBooks))] {
			book := sampleBooks[i].Clone()
			book.ID, err = id.Generate(id.PrefixBook)
			if err != nil {
				log.Fatalf("Failed to generate book id: %v", err)
			}
			book.OwnerID = identity.UserID

			// Same order as the client: global catalog first, then the profile.
			if err := client.PatchArrayField(ctx, replica.CatalogAddress(), domain.FieldListOfBooks, replica.Union, book); err != nil {
				log.Fatalf("Failed to file %q in the catalog: %v", book.Title, err)
			}
			if err := client.PatchArrayField(ctx, replica.ProfileAddress(identity), domain.FieldListOfBooks, replica.Union, book); err != nil {
				log.Fatalf("Failed to file %q in %s's profile: %v", book.Title, email, err)
			}
			filed++
		}
		fmt.Printf("  %s (%s)\n", email, identity.UserID)
	}

	fmt.Printf("\nCreated %d accounts and filed %d books\n", created, filed)
	fmt.Printf("Sign in with any account above and password %q\n", *password)
}
