package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/victorivanov/permd/internal/auth"
	"github.com/victorivanov/permd/internal/database"
	"github.com/victorivanov/permd/internal/storage"
	"github.com/victorivanov/permd/internal/store"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "migrate":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli migrate")
			fmt.Println()
			fmt.Println("Run database migrations from the migrations/ directory.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL  PostgreSQL connection string (required)")
			return
		}
		os.Exit(runMigrate())
	case "health":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli health")
			fmt.Println()
			fmt.Println("Check if the permd server is running and its mirror is populated.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  SERVER_URL  Server base URL (default: http://localhost:8080)")
			return
		}
		os.Exit(runHealth())
	case "export":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli export [--out FILE] [--minio]")
			fmt.Println()
			fmt.Println("Write the latest checkpoint as an archive file (stdout by default).")
			fmt.Println("With --minio the archive is uploaded to object storage instead.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL      PostgreSQL connection string (required)")
			fmt.Println("  MINIO_ENDPOINT    object storage endpoint (required with --minio)")
			fmt.Println("  MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_BUCKET, MINIO_USE_SSL")
			return
		}
		os.Exit(runExport(args))
	case "import":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli import (--file FILE | --minio)")
			fmt.Println()
			fmt.Println("Replace the stored checkpoint with an archive file, or with the")
			fmt.Println("latest archive in object storage when --minio is given.")
			fmt.Println("Stop the server first or its next checkpoint overwrites the import.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  DATABASE_URL      PostgreSQL connection string (required)")
			fmt.Println("  MINIO_ENDPOINT    object storage endpoint (required with --minio)")
			fmt.Println("  MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_BUCKET, MINIO_USE_SSL")
			return
		}
		os.Exit(runImport(args))
	case "resolve":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli resolve --file FILE --user ID (--server ID | --channel ID)")
			fmt.Println()
			fmt.Println("Resolve permissions offline against an archive file.")
			return
		}
		os.Exit(runResolve(args, os.Stdout))
	case "token":
		if hasFlag("--help", args) {
			fmt.Println("Usage: permd-cli token --user ID [--expiry DURATION]")
			fmt.Println()
			fmt.Println("Issue an access token for calling the API.")
			fmt.Println()
			fmt.Println("Environment:")
			fmt.Println("  JWT_SECRET  signing secret shared with the server (required)")
			return
		}
		os.Exit(runToken(args))
	case "version":
		fmt.Printf("permd-cli %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: permd-cli <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate  Run database migrations")
	fmt.Println("  health   Check if the server is running")
	fmt.Println("  export   Export the latest checkpoint")
	fmt.Println("  import   Load an archive into the checkpoint tables")
	fmt.Println("  resolve  Resolve permissions offline from an archive")
	fmt.Println("  token    Issue an API access token")
	fmt.Println("  version  Print version info")
	fmt.Println()
	fmt.Println("Run 'permd-cli <command> --help' for details on a command.")
}

func hasFlag(flag string, args []string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// flagValue returns the argument following flag, or "" when absent.
func flagValue(flag string, args []string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- migrate ---

func runMigrate() int {
	dbURL := requireEnv("DATABASE_URL")

	fmt.Println("connecting to database...")
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: migration init failed: %v\n", err)
		return 1
	}
	defer m.Close()

	fmt.Println("running migrations...")
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		fmt.Fprintf(os.Stderr, "error: migration failed: %v\n", err)
		return 1
	}

	v, dirty, _ := m.Version()
	if err == migrate.ErrNoChange {
		fmt.Printf("no new migrations (current version: %d)\n", v)
	} else {
		fmt.Printf("migrations applied (version: %d, dirty: %v)\n", v, dirty)
	}
	return 0
}

// --- health ---

func runHealth() int {
	serverURL := envOr("SERVER_URL", "http://localhost:8080")
	url := serverURL + "/health"

	fmt.Printf("checking %s ...\n", url)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status: %d\n", resp.StatusCode)
	if len(body) > 0 {
		fmt.Printf("body:   %s\n", string(body))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Println("server is healthy")
		return 0
	case http.StatusServiceUnavailable:
		fmt.Fprintln(os.Stderr, "server is up but its mirror is still empty")
		return 1
	}
	fmt.Fprintln(os.Stderr, "server returned non-200 status")
	return 1
}

// --- export / import ---

func loadCheckpoint(ctx context.Context) (*store.Snapshot, database.Checkpoint, func(), error) {
	pool, err := database.NewPostgresPool(ctx, requireEnv("DATABASE_URL"))
	if err != nil {
		return nil, database.Checkpoint{}, nil, err
	}
	ready, cp, err := database.NewSnapshotRepository(pool).Load(ctx)
	if err != nil {
		pool.Close()
		return nil, database.Checkpoint{}, nil, err
	}
	snap := store.FromReady(ready)
	snap.Version = cp.Version
	return snap, cp, pool.Close, nil
}

func runExport(args []string) int {
	ctx := context.Background()
	snap, cp, closePool, err := loadCheckpoint(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading checkpoint: %v\n", err)
		return 1
	}
	defer closePool()

	if hasFlag("--minio", args) {
		archive, err := openArchive(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: connecting to object storage: %v\n", err)
			return 1
		}
		key, err := archive.Save(ctx, snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: uploading archive: %v\n", err)
			return 1
		}
		fmt.Printf("checkpoint %d (saved %s) uploaded to %s\n", cp.Version, cp.SavedAt.Format(time.RFC3339), key)
		return 0
	}

	out := io.Writer(os.Stdout)
	if path := flagValue("--out", args); path != "" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	if err := store.WriteArchive(out, snap); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func readArchiveFile(path string) (store.Archive, error) {
	if path == "" {
		return store.Archive{}, fmt.Errorf("--file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return store.Archive{}, err
	}
	defer f.Close()
	return store.ReadArchive(f)
}

func openArchive(ctx context.Context) (*storage.SnapshotArchive, error) {
	return storage.NewSnapshotArchive(ctx,
		requireEnv("MINIO_ENDPOINT"), os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY"),
		envOr("MINIO_BUCKET", "permd"), os.Getenv("MINIO_USE_SSL") == "true")
}

func runImport(args []string) int {
	ctx := context.Background()

	var a store.Archive
	var err error
	if hasFlag("--minio", args) {
		var archive *storage.SnapshotArchive
		if archive, err = openArchive(ctx); err == nil {
			a, err = archive.Restore(ctx)
		}
	} else {
		a, err = readArchiveFile(flagValue("--file", args))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	pool, err := database.NewPostgresPool(ctx, requireEnv("DATABASE_URL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer pool.Close()

	repo := database.NewSnapshotRepository(pool)
	switch prev, err := repo.Latest(ctx); {
	case err == nil:
		fmt.Printf("replacing checkpoint %d (saved %s)\n", prev.Version, prev.SavedAt.Format(time.RFC3339))
	case errors.Is(err, database.ErrNoCheckpoint):
		fmt.Println("no existing checkpoint")
	default:
		fmt.Fprintf(os.Stderr, "error: reading current checkpoint: %v\n", err)
		return 1
	}

	snap := store.FromReady(a.Ready)
	snap.Version = a.Version
	if err := repo.Save(ctx, snap); err != nil {
		fmt.Fprintf(os.Stderr, "error: saving checkpoint: %v\n", err)
		return 1
	}

	st := snap.Stats()
	fmt.Printf("imported version %d: %d users, %d servers, %d channels, %d members\n",
		a.Version, st.Users, st.Servers, st.Channels, st.Members)
	return 0
}

// --- token ---

func runToken(args []string) int {
	userID := flagValue("--user", args)
	if userID == "" {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		return 1
	}

	tokens := auth.NewTokenService(requireEnv("JWT_SECRET"))
	if s := flagValue("--expiry", args); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			fmt.Fprintf(os.Stderr, "error: invalid --expiry %q\n", s)
			return 1
		}
		tokens = tokens.WithAccessExpiry(d)
	}

	token, err := tokens.GenerateAccessToken(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
