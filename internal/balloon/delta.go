package balloon

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const cursorPrefix = "dc1:"

// DeltaEntry is one immutable record of the change log.
type DeltaEntry struct {
	Cursor    int64
	NodeID    string
	OwnerID   string
	Path      string
	Deleted   bool
	Directory bool
	Time      time.Time
}

// DeltaPage is the result of a Delta query.
type DeltaPage struct {
	Entries []*DeltaEntry
	// Cursor resumes after the last returned entry. It equals the request
	// cursor when nothing new was returned.
	Cursor  string
	HasMore bool
}

// EncodeCursor turns a log position into an opaque token.
func EncodeCursor(pos int64) string {
	if pos <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(pos, 10)))
}

// DecodeCursor parses a token produced by EncodeCursor. The empty token is
// the beginning of the log.
func DecodeCursor(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) {
		return 0, invalid("decode cursor", "", "malformed cursor %q", token)
	}
	pos, err := strconv.ParseInt(strings.TrimPrefix(string(raw), cursorPrefix), 10, 64)
	if err != nil || pos <= 0 {
		return 0, invalid("decode cursor", "", "malformed cursor %q", token)
	}
	return pos, nil
}

// Delta returns the acting user's log entries after cursor, oldest first.
// A limit of 0 uses the configured page size.
func (s *Service) Delta(ctx context.Context, cursor string, limit int) (*DeltaPage, error) {
	const op = "delta"
	user, err := s.user(ctx, op, "")
	if err != nil {
		return nil, err
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	var entries []*DeltaEntry
	err = s.read(ctx, op, "", func(tx Tx) error {
		var err error
		entries, err = tx.ListDelta(user, after, limit+1)
		return err
	})
	if err != nil {
		return nil, err
	}
	page := &DeltaPage{Cursor: cursor}
	if len(entries) > limit {
		entries, page.HasMore = entries[:limit], true
	}
	page.Entries = entries
	if len(entries) > 0 {
		page.Cursor = EncodeCursor(entries[len(entries)-1].Cursor)
	}
	return page, nil
}

// LatestCursor returns a cursor positioned after every entry currently
// visible to the acting user.
func (s *Service) LatestCursor(ctx context.Context) (string, error) {
	const op = "latest cursor"
	user, err := s.user(ctx, op, "")
	if err != nil {
		return "", err
	}
	var pos int64
	err = s.read(ctx, op, "", func(tx Tx) error {
		var err error
		pos, err = tx.LatestDelta(user)
		return err
	})
	if err != nil {
		return "", err
	}
	return EncodeCursor(pos), nil
}

// appendDelta writes the entries of a committed mutation. A failure leaves
// the mutation in place and is logged for reconciliation.
func (s *Service) appendDelta(ctx context.Context, op string, entries []*DeltaEntry) {
	if len(entries) == 0 {
		return
	}
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.db.Update(context.WithoutCancel(ctx), func(tx Tx) error {
			for _, e := range entries {
				if err := tx.AppendDelta(e); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, ErrRevisionConflict) {
			break
		}
	}
	if err != nil {
		for _, e := range entries {
			s.logger.Error("delta append failed", "op", op, "node", e.NodeID, "path", e.Path,
				"deleted", e.Deleted, "error", err)
		}
	}
}
