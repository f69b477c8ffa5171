package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/topd/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_RecordRender demonstrates recording and reading back a render.
func ExampleSQLiteStore_RecordRender() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.RecordRender(ctx, &stores.Render{
		ID:            "render-001",
		Environment:   "base",
		Namespace:     "state",
		Digest:        "3f2a",
		FragmentCount: 1,
		EntryCount:    2,
		Sources:       []string{"/srv/salt/top.sls", "/srv/salt/_tops/base/web.top"},
		RenderedAt:    time.Now(),
	})
	if err != nil {
		log.Fatal(err)
	}

	latest, err := store.LatestRender(ctx, "base", "state")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(latest.ID, latest.Sources[1])
	// Output: render-001 /srv/salt/_tops/base/web.top
}
