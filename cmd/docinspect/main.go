// Package main provides a read-only inspector for the emulator's document store.
//
// It prints every stored document and checks that the global catalog and the
// owners' profiles hold the same books.
//
// Usage:
//
//	go run ./cmd/docinspect -data-path ~/.heybooks/catalogd
//	go run ./cmd/docinspect -data-path ~/.heybooks/catalogd users
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/docstore/badgerdoc"
	"github.com/heybooks/heybooks-sync/internal/domain"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/replica"
)

func main() {
	cfg, err := config.LoadConfig("docinspect", os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	collection := ""
	if len(cfg.Args) > 0 {
		collection = cfg.Args[0]
	}

	store, err := badgerdoc.OpenReadOnly(cfg.DocumentsPath(), logger.Discard())
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer store.Close()

	fmt.Println("=== Document Store Inspection ===")
	fmt.Printf("Path: %s\n\n", cfg.DocumentsPath())

	var catalog []domain.Book
	var profiles []domain.User
	docs := 0

	err = store.Scan(context.Background(), collection, func(snap docstore.Snapshot) error {
		docs++
		fmt.Printf("%s (version %d)\n", snap.Address, snap.Version)

		switch {
		case snap.Address == replica.CatalogAddress():
			var doc struct {
				ListOfBooks []domain.Book `json:"listOfBooks"`
			}
			if err := snap.Decode(&doc); err != nil {
				return err
			}
			catalog = doc.ListOfBooks
			fmt.Printf("  Books: %d\n", len(catalog))
			printBooks(catalog)

		case snap.Address.Collection == domain.UsersCollection:
			var user domain.User
			if err := snap.Decode(&user); err != nil {
				return err
			}
			user.UserID = snap.Address.ID
			profiles = append(profiles, user)
			fmt.Printf("  Name: %s <%s>\n", user.Name, user.Email)
			fmt.Printf("  Books: %d\n", len(user.ListOfBooks))
			printBooks(user.ListOfBooks)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Documents: %d\n", docs)

	// The check needs both collections.
	if collection != "" {
		return
	}

	report := replica.Audit(catalog, profiles)
	fmt.Printf("Catalog books: %d\n", report.CatalogBooks)
	fmt.Printf("Profiles: %d (%d books)\n", report.Profiles, report.ProfileBooks)

	if report.Consistent() {
		fmt.Println("Replicas are consistent")
		return
	}

	fmt.Printf("Divergences: %d\n", len(report.Divergences))
	for _, d := range report.Divergences {
		where := "profile " + d.Book.OwnerID
		if d.InCatalog {
			where = "catalog"
		}
		fmt.Printf("  %s %q only in %s\n", d.Book.ID, d.Book.Title, where)
	}
	store.Close()
	os.Exit(1)
}

func printBooks(books []domain.Book) {
	for i, b := range books {
		if i == 5 {
			fmt.Printf("    ... and %d more\n", len(books)-5)
			return
		}
		fmt.Printf("    [%s] %s by %s (%d pages)\n", b.ID, b.Title, b.Authors, b.PageCount)
	}
}
