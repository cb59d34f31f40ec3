package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/session"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/google/uuid"
)

func (a *App) getStatus() string {
	s := string(a.Mode)
	if count, err := a.capture.PendingCount(context.Background()); err == nil && count > 0 {
		s = fmt.Sprintf("%s, %d pending", s, count)
	}
	return fmt.Sprintf("(%s)", s)
}

func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "fieldsync CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Fprintf(a.out, "fsync %s> ", a.getStatus())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(a.out, "Available commands: unlock, save, photo, get, list, pending, failed, retry, sync, conflicts, status, exit")
		case "unlock":
			a.unlock(ctx)
		case "save":
			a.save(ctx)
		case "photo":
			a.photo(ctx)
		case "get":
			a.get(ctx, args)
		case "list":
			a.list(ctx, args)
		case "pending":
			a.pending(ctx)
		case "failed":
			a.failed(ctx)
		case "retry":
			a.retry(ctx)
		case "sync":
			a.sync(ctx)
		case "conflicts":
			a.conflicts(ctx)
		case "status":
			a.status(ctx)
		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye!")
			return
		default:
			fmt.Fprintln(a.out, "Unknown command:", cmd)
		}
	}
}

// unlock derives the sealing key from a passphrase and loads the persisted
// session. The salt lives in the kv collection in the clear; the passphrase
// never touches disk.
func (a *App) unlock(ctx context.Context) {
	if err := a.store.Init(ctx); err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}

	passphrase, err := GetPassword(a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	defer cryptox.WipeByteArray(passphrase)

	salt, _, err := a.store.KV.Get(ctx, "session.salt")
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	if salt == nil {
		salt = []byte(uuid.NewString())
		if err := a.store.KV.Set(ctx, "session.salt", salt, nil); err != nil {
			fmt.Fprintln(a.out, "error:", err)
			return
		}
	}

	key := cryptox.DeriveKey(passphrase, salt)
	s := session.New(a.store.KV, key, a.config.APIEndpointAddr+"/api/auth/refresh", a.log)
	if err := s.Load(ctx); err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	a.holder.set(s)

	if s.Authenticated() {
		fmt.Fprintln(a.out, "Session restored")
	} else {
		fmt.Fprintln(a.out, "Session unlocked (no stored credentials)")
	}
}

func (a *App) save(ctx context.Context) {
	typ, err := GetSimpleText(a.reader, "Record type (e.g. unit_entry)", a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	endpoint, err := GetSimpleText(a.reader, "Endpoint (e.g. /api/units)", a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	raw, err := GetSimpleText(a.reader, "Payload (JSON object)", a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		fmt.Fprintln(a.out, "invalid JSON:", err)
		return
	}

	result := a.capture.SaveOptimistic(ctx, services.SaveRequest{
		Type:     typ,
		Endpoint: endpoint,
		Method:   "POST",
		Data:     data,
	})
	if !result.Success {
		fmt.Fprintln(a.out, "save failed:", result.Err)
		return
	}
	fmt.Fprintf(a.out, "Saved locally as %s\n", result.OfflineID)
}

func (a *App) photo(ctx context.Context) {
	parentID, err := GetSimpleText(a.reader, "Parent record id", a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	path, err := GetSimpleText(a.reader, "Photo file path", a.out)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	result := a.capture.SavePhoto(ctx, parentID, filepath.Base(path), mimeType, data)
	if !result.Success {
		fmt.Fprintln(a.out, "save failed:", result.Err)
		return
	}
	fmt.Fprintf(a.out, "Photo queued as %s\n", result.OfflineID)
}

func (a *App) get(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(a.out, "Usage: get <kind> <id> [endpoint]")
		return
	}
	kind, id := args[0], args[1]
	endpoint := fmt.Sprintf("/api/%s/%s", kind, id)
	if len(args) > 2 {
		endpoint = args[2]
	}

	entity, err := a.cache.GetEntity(ctx, kind, id, endpoint)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	fmt.Fprintf(a.out, "%s (cached %s)\n%s\n", entity.ID, entity.CachedAt.Format("2006-01-02 15:04:05"), entity.Data)
}

func (a *App) list(ctx context.Context, args []string) {
	kind := ""
	if len(args) > 0 {
		kind = args[0]
	}

	entities, err := a.cache.List(ctx, kind)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	if len(entities) == 0 {
		fmt.Fprintln(a.out, "Cache is empty")
		return
	}
	for _, e := range entities {
		fmt.Fprintf(a.out, "%s/%s cached %s\n", e.Kind, e.ID, e.CachedAt.Format("2006-01-02 15:04:05"))
	}
}

func (a *App) pending(ctx context.Context) {
	if err := a.store.Init(ctx); err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	ops, err := a.store.Operations.GetPending(ctx, models.OperationFilter{})
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "Queue is empty")
		return
	}
	for _, op := range ops {
		fmt.Fprintf(a.out, "%s %s %s %s retries=%d %s\n",
			op.OfflineID, op.Type, op.Method, op.Endpoint, op.Retries, op.Status)
	}
}

func (a *App) failed(ctx context.Context) {
	if err := a.store.Init(ctx); err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	ops, err := a.store.Operations.GetFailed(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "No failed operations")
		return
	}
	for _, op := range ops {
		fmt.Fprintf(a.out, "%s %s retries=%d error=%s\n", op.OfflineID, op.Type, op.Retries, op.LastError)
	}
}

func (a *App) retry(ctx context.Context) {
	count, err := a.engine.RetryFailed(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	fmt.Fprintf(a.out, "%d operation(s) returned to the queue\n", count)
}

func (a *App) sync(ctx context.Context) {
	result, err := a.engine.ForceSync(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	switch {
	case result.Offline:
		fmt.Fprintln(a.out, "Device is offline; changes stay queued")
	case result.AlreadyRunning:
		fmt.Fprintln(a.out, "Sync already in progress")
	default:
		fmt.Fprintf(a.out, "Synced %d, failed %d, conflicts %d, photos %d\n",
			result.Synced, result.Failed, result.Conflicts, result.PhotosSynced)
	}
}

func (a *App) conflicts(ctx context.Context) {
	if err := a.store.Init(ctx); err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	records, err := a.store.Conflicts.List(ctx)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No recorded conflicts")
		return
	}
	for _, r := range records {
		fmt.Fprintf(a.out, "%s %s %s fields=%v resolved=%s\n",
			r.ResolvedAt.Format("2006-01-02 15:04:05"), r.Type, r.OfflineID, r.ConflictingFields, r.Resolution)
	}
}

func (a *App) status(ctx context.Context) {
	fmt.Fprintf(a.out, "Mode: %s\n", a.Mode)
	fmt.Fprintf(a.out, "Status: %s\n", a.capture.SyncStatusText(ctx))
	if count, err := a.capture.PendingCount(ctx); err == nil {
		fmt.Fprintf(a.out, "Pending: %d\n", count)
	}
	if value, _, err := a.store.KV.Get(ctx, common.KVKeyLastSyncAt); err == nil && value != nil {
		fmt.Fprintf(a.out, "Last sync (unix): %s\n", value)
	}
}
