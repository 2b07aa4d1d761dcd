package main

import (
	"flag"
	"log"
	"os"

	"github.com/craftd/msm/pkg/datadir"
	"github.com/craftd/msm/pkg/platform"
	"github.com/craftd/msm/pkg/storage"
)

var (
	dataDir    = flag.String("data-dir", "", "Data directory (default: the platform data root)")
	dryRun     = flag.Bool("dry-run", false, "Show pending migrations without applying them")
	backupPath = flag.String("backup", "", "Where to copy the database first (default: <database>.backup)")
)

// msm-migrate upgrades an msm database schema out of band. The daemon
// migrates automatically on startup; this tool exists for upgrades you
// want to inspect first, and for restoring confidence after one goes
// wrong (the pre-migration backup it writes is a plain SQLite file).
func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("msm database migration tool")

	root := *dataDir
	if root == "" {
		r, err := platform.DataRoot()
		if err != nil {
			log.Fatalf("Failed to resolve data root: %v", err)
		}
		root = r
	}
	layout, err := datadir.New(root)
	if err != nil {
		log.Fatalf("Failed to prepare data directory: %v", err)
	}
	dbPath := layout.DatabasePath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s (has 'msm serve' run yet?)", dbPath)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	current, err := storage.SchemaVersion(db)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	log.Printf("Database: %s", dbPath)
	log.Printf("Schema version: %d (latest is %d)", current, storage.LatestVersion())

	pending, err := storage.PendingMigrations(db)
	if err != nil {
		log.Fatalf("Failed to list pending migrations: %v", err)
	}
	if len(pending) == 0 {
		log.Println("✓ Database is already at the latest schema")
		return
	}

	log.Printf("Pending migrations (%d):", len(pending))
	for _, p := range pending {
		log.Printf("  %s", p)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to apply.")
		return
	}

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	// VACUUM INTO folds the WAL into the copy; a bare file copy would
	// miss frames not yet checkpointed.
	if _, err := os.Stat(backupFile); err == nil {
		log.Fatalf("Backup target %s already exists; refusing to overwrite", backupFile)
	}
	if _, err := db.Exec(`VACUUM INTO ?`, backupFile); err != nil {
		log.Fatalf("Failed to create backup: %v", err)
	}
	log.Println("✓ Backup created")

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	final, err := storage.SchemaVersion(db)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	log.Printf("✓ Migration completed: schema version %d", final)
	log.Printf("The pre-migration copy at %s can be deleted once the daemon runs cleanly.", backupFile)
}
