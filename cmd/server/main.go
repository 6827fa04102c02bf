package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/collabcore/core/internal/audit"
	"github.com/collabcore/core/internal/cache"
	"github.com/collabcore/core/internal/chatmemory"
	"github.com/collabcore/core/internal/config"
	"github.com/collabcore/core/internal/embedding"
	"github.com/collabcore/core/internal/permission"
	"github.com/collabcore/core/internal/scheduler"
	"github.com/collabcore/core/internal/storage"
	"github.com/collabcore/core/internal/sync"
	"github.com/collabcore/core/internal/teamcrypto"
	"github.com/collabcore/core/internal/workflow"
)

// syncPruneRetention is how long a synced operation survives in the log
// before the prune job deletes it (spec §4.3's sync_operations table is a
// log, not permanent storage, once every peer has caught up).
const syncPruneRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logWriter := io.Writer(os.Stdout)
	if logPath := os.Getenv("COLLABCORE_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	// Dependency order per spec §9: identifier validation and the storage
	// substrate underlie everything; audit and cache are shared
	// collaborators; permission and sync are built before chat memory and
	// workflow because both façades track their syncable writes through
	// sync.Engine, and workflow additionally resolves team roles through
	// permission.Engine.
	chatDB, err := openDB(cfg.DB.ChatMemoryPath, chatmemory.Schema, logger, "chat memory")
	if err != nil {
		os.Exit(1)
	}
	defer chatDB.Close()

	coreDB, err := openDB(cfg.DB.CorePath, permission.Schema, logger, "core")
	if err != nil {
		os.Exit(1)
	}
	defer coreDB.Close()

	syncDB, err := openDB(cfg.DB.SyncPath, sync.Schema, logger, "sync")
	if err != nil {
		os.Exit(1)
	}
	defer syncDB.Close()

	workflowDB, err := openDB(cfg.DB.WorkflowPath, workflow.Schema, logger, "workflow")
	if err != nil {
		os.Exit(1)
	}
	defer workflowDB.Close()

	// A syncable write and the sync_operations row it produces must commit
	// as one serialized step even though they live in separate logical
	// databases, so sync shares its write mutex with every database whose
	// tables are in its AllowedTables set.
	coreDB.WithSharedWriteMutex(syncDB)
	workflowDB.WithSharedWriteMutex(syncDB)
	chatDB.WithSharedWriteMutex(syncDB)

	auditLog := audit.NewSlogLog(logger)
	cacheInst := cache.NewTTLCache()
	embeddingModel := embedding.NewStubModel()
	keyring := teamcrypto.NewStaticKeyring()
	crypto := teamcrypto.NewHMACCrypto(keyring.Lookup)

	permissionEngine := permission.New(coreDB, auditLog, cacheInst, logger)

	peerID := derivePeerID()
	syncEngine := sync.New(syncDB, peerID, crypto, crypto, permissionEngine.AsMembership(), auditLog, logger)

	chatMemory := chatmemory.New(chatDB, embeddingModel, cacheInst, syncEngine, logger)
	_ = chatMemory // TODO: mount the chat memory HTTP API once it exists; constructed here so its syncable writes are tracked from startup
	workflowStore := workflow.New(workflowDB, auditLog, permissionEngine, syncEngine, logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := syncEngine.Restore(startupCtx); err != nil {
		logger.Error("restore sync state", "error", err)
		os.Exit(1)
	}
	cancelStartup()

	sched := scheduler.New(logger)
	registerJobs(sched, cfg, syncEngine, workflowStore, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/api/v1/mesh/sync/exchange", syncEngine.MeshSyncHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	runCtx, cancelRun := context.WithCancel(context.Background())
	sched.Start(runCtx)

	go func() {
		logger.Info("server listening", "addr", addr, "peer_id", peerID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer, sched, cancelRun)
}

// registerJobs wires the three background jobs spec §4.3 and §4.4 describe
// as running on a schedule rather than in response to a request: the peer
// sync-exchange round, pruning of already-synced operations, and the
// delayed-promotion sweep.
func registerJobs(sched *scheduler.Scheduler, cfg config.Config, syncEngine *sync.Engine, workflowStore *workflow.Store, logger *slog.Logger) {
	peers := make([]sync.Peer, 0, len(cfg.Sync.Peers))
	for _, p := range cfg.Sync.Peers {
		peers = append(peers, sync.Peer{PeerID: p.PeerID, IP: p.IP, Port: p.Port})
	}
	discovery := sync.NewStaticPeers(peers)
	tables := make([]string, 0, len(sync.AllowedTables))
	for t := range sync.AllowedTables {
		tables = append(tables, t)
	}

	if err := sched.AddJob("sync-exchange", cfg.Sync.ExchangeSchedule, func(ctx context.Context) error {
		syncEngine.RunExchangeRound(ctx, discovery, tables)
		return nil
	}); err != nil {
		logger.Error("register sync-exchange job", "error", err)
	}

	if err := sched.AddJob("sync-prune", cfg.Sync.PruneSchedule, func(ctx context.Context) error {
		pruned, err := syncEngine.PruneSyncedOperations(ctx, syncPruneRetention)
		if err != nil {
			return err
		}
		logger.Debug("pruned synced operations", "count", pruned)
		return nil
	}); err != nil {
		logger.Error("register sync-prune job", "error", err)
	}

	if err := sched.AddJob("promotion-sweep", cfg.Sync.PromotionSweepSchedule, func(ctx context.Context) error {
		applied, err := workflowStore.ApplyDuePromotions(ctx, time.Now())
		if err != nil {
			return err
		}
		if applied > 0 {
			logger.Debug("applied due promotions", "count", applied)
		}
		return nil
	}); err != nil {
		logger.Error("register promotion-sweep job", "error", err)
	}
}

func openDB(path, schema string, logger *slog.Logger, label string) (*storage.DB, error) {
	if err := ensureDBDir(path); err != nil {
		logger.Error("failed to prepare database path", "db", label, "error", err)
		return nil, err
	}
	db, err := storage.Open(path)
	if err != nil {
		logger.Error("failed to open database", "db", label, "error", err)
		return nil, err
	}
	if err := db.ApplySchema(schema); err != nil {
		logger.Error("failed to apply schema", "db", label, "error", err)
		return nil, err
	}
	return db, nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// derivePeerID derives a stable identifier for this node from its hostname
// rather than generating a random one at every startup, so a restarted
// node keeps its place in peer_sync_state across every other peer it
// exchanges with (spec §4.3).
func derivePeerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])[:16]
}

func waitForShutdown(logger *slog.Logger, server *http.Server, sched *scheduler.Scheduler, cancelRun context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sched.Stop()
	cancelRun()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   stdsync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
