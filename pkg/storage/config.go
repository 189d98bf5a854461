package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// provider is a Database that is checked and opened once flags are parsed.
type provider interface {
	Database
	Validate() error
	Init(ctx context.Context) error
}

var (
	_ provider = (*FirestoreProvider)(nil)
	_ provider = (*SQLiteProvider)(nil)
)

// Configured registers the flags of every provider and opens the one chosen
// by storage-provider once flags are parsed.
func Configured() Database {
	providers := map[string]provider{
		"firestore": configuredFirestore(),
		"sqlite":    configuredSQLite(),
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)

	name := lflag.String("storage-provider", "firestore", "Storage provider to use (available: "+strings.Join(names, ", ")+")")

	var db struct{ Database }
	lflag.Do(func() {
		p, ok := providers[*name]
		if !ok {
			panic(fmt.Sprintf("unknown storage provider: %s", *name))
		}
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *name, err))
		}
		if err := p.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *name, err))
		}
		db.Database = p
	})
	return &db
}
