package balloon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"
)

// maxBlobAttempts bounds compare-and-swap retries on a blob entry.
const maxBlobAttempts = 8

// errBlobVanished signals that an entry seen before the transaction was freed
// before it could be referenced; the bytes have to be uploaded again. It
// wraps ErrRevisionConflict so that running out of attempts on it reports a
// retryable conflict.
var errBlobVanished = fmt.Errorf("blob entry vanished: %w", ErrRevisionConflict)

// BlobRef is one holder of a blob.
type BlobRef struct {
	NodeID  string `cbor:"1,keyasint"`
	OwnerID string `cbor:"2,keyasint"`
}

// Blob is the BlobStore entry for one content digest.
type Blob struct {
	Digest   string
	VaultID  string
	Size     int64
	Refs     []BlobRef
	Created  time.Time
	Revision int64
}

func (b *Blob) refIndex(nodeID string) int {
	return slices.IndexFunc(b.Refs, func(r BlobRef) bool { return r.NodeID == nodeID })
}

// BlobStore is the content-addressed, reference-counted store of file bytes.
// Entries live in the Database; bytes live in the Vault.
type BlobStore struct {
	db     Database
	vault  Vault
	idgen  IDGenerator
	clock  Clock
	logger Logger
}

func NewBlobStore(db Database, vault Vault, idgen IDGenerator, clock Clock, logger Logger) *BlobStore {
	return &BlobStore{db: db, vault: vault, idgen: idgen, clock: clock, logger: logger}
}

// pendingBlob tracks bytes written to the vault ahead of the transaction that
// creates their entry.
type pendingBlob struct {
	staged   *StagedContent
	vaultID  string
	inserted bool
}

func (p *pendingBlob) digest() string { return p.staged.Digest }

// prepare uploads the staged bytes unless an entry for the digest already
// exists. Returns nil for empty content.
func (s *BlobStore) prepare(ctx context.Context, staged *StagedContent) (*pendingBlob, error) {
	if staged.Size == 0 {
		return nil, nil
	}
	p := &pendingBlob{staged: staged}
	var existing *Blob
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		existing, err = tx.GetBlob(staged.Digest)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("looking up blob %s: %w", staged.Digest, err)
	}
	if existing != nil {
		return p, nil
	}
	if err := s.upload(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BlobStore) upload(ctx context.Context, p *pendingBlob) error {
	if p.vaultID != "" {
		return nil
	}
	r, err := p.staged.Open()
	if err != nil {
		return fmt.Errorf("opening staged content: %w", err)
	}
	defer r.Close()

	id := s.idgen.New()
	if err := s.vault.PutBlob(ctx, id, r, p.staged.Size); err != nil {
		s.discard(ctx, id)
		return fmt.Errorf("uploading blob %s: %w", p.digest(), err)
	}
	p.vaultID = id
	return nil
}

// attach references the pending blob from ref inside tx, creating the entry
// when it does not exist yet.
func (s *BlobStore) attach(tx Tx, p *pendingBlob, ref BlobRef) error {
	blob, err := tx.GetBlob(p.digest())
	if err != nil {
		return err
	}
	if blob == nil {
		if p.vaultID == "" {
			return errBlobVanished
		}
		p.inserted = true
		return tx.InsertBlob(&Blob{
			Digest:  p.digest(),
			VaultID: p.vaultID,
			Size:    p.staged.Size,
			Refs:    []BlobRef{ref},
			Created: s.clock.Now(),
		})
	}
	return addRefTx(tx, blob, ref)
}

func addRefTx(tx Tx, blob *Blob, ref BlobRef) error {
	if blob.refIndex(ref.NodeID) >= 0 {
		return nil
	}
	blob.Refs = append(blob.Refs, ref)
	return tx.UpdateBlob(blob)
}

// addRefExisting references an existing entry inside tx. Returns
// ErrBlobNotFound when the digest has no entry.
func (s *BlobStore) addRefExisting(tx Tx, digest string, ref BlobRef) error {
	blob, err := tx.GetBlob(digest)
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("digest %s: %w", digest, ErrBlobNotFound)
	}
	return addRefTx(tx, blob, ref)
}

// detach drops nodeID from the entry inside tx. When no reference remains the
// entry is deleted and returned so the caller can free the bytes after commit.
func (s *BlobStore) detach(tx Tx, digest, nodeID string) (*Blob, error) {
	blob, err := tx.GetBlob(digest)
	if err != nil || blob == nil {
		return nil, err
	}
	i := blob.refIndex(nodeID)
	if i < 0 {
		return nil, nil
	}
	blob.Refs = slices.Delete(blob.Refs, i, i+1)
	if len(blob.Refs) == 0 {
		return blob, tx.DeleteBlob(blob)
	}
	return nil, tx.UpdateBlob(blob)
}

// settle removes vault objects that did not end up owned by an entry.
func (s *BlobStore) settle(ctx context.Context, p *pendingBlob, committed bool) {
	if p == nil || p.vaultID == "" {
		return
	}
	if committed && p.inserted {
		return
	}
	s.discard(ctx, p.vaultID)
	p.vaultID = ""
}

// free deletes the bytes of entries whose last reference was dropped.
func (s *BlobStore) free(ctx context.Context, blobs []*Blob) {
	for _, b := range blobs {
		s.logger.Debug("freeing blob", "digest", b.Digest, "vault_id", b.VaultID)
		s.discard(ctx, b.VaultID)
	}
}

func (s *BlobStore) discard(ctx context.Context, vaultID string) {
	if err := s.vault.DeleteBlob(context.WithoutCancel(ctx), vaultID); err != nil {
		s.logger.Warn("orphaned vault object", "vault_id", vaultID, "error", err)
	}
}

// Store references the staged content from ref. Bytes are written to the
// vault only when the digest is new. Returns the digest, or "" for empty
// content.
func (s *BlobStore) Store(ctx context.Context, staged *StagedContent, ref BlobRef) (string, error) {
	p, err := s.prepare(ctx, staged)
	if err != nil || p == nil {
		return "", err
	}
	for attempt := 0; attempt < maxBlobAttempts; attempt++ {
		p.inserted = false
		err = s.db.Update(ctx, func(tx Tx) error { return s.attach(tx, p, ref) })
		if err == nil {
			s.settle(ctx, p, true)
			return p.digest(), nil
		}
		if errors.Is(err, errBlobVanished) {
			// err stays errBlobVanished until an attempt commits.
			if uerr := s.upload(ctx, p); uerr != nil {
				err = uerr
				break
			}
			continue
		}
		if !errors.Is(err, ErrRevisionConflict) {
			break
		}
	}
	s.settle(ctx, p, false)
	return "", fmt.Errorf("storing blob %s: %w", staged.Digest, err)
}

// AddRef adds ref to an existing entry. Adding a ref the entry already holds
// is a no-op.
func (s *BlobStore) AddRef(ctx context.Context, digest string, ref BlobRef) error {
	return s.retry(ctx, func(tx Tx) error { return s.addRefExisting(tx, digest, ref) })
}

// RemoveRef drops nodeID from the entry and deletes the bytes when it was the
// last reference. Removing an absent ref is a no-op.
func (s *BlobStore) RemoveRef(ctx context.Context, digest, nodeID string) error {
	var freed *Blob
	err := s.retry(ctx, func(tx Tx) error {
		var err error
		freed, err = s.detach(tx, digest, nodeID)
		return err
	})
	if err != nil {
		return err
	}
	if freed != nil {
		s.free(ctx, []*Blob{freed})
	}
	return nil
}

func (s *BlobStore) retry(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 0; attempt < maxBlobAttempts; attempt++ {
		if err = s.db.Update(ctx, fn); !errors.Is(err, ErrRevisionConflict) {
			return err
		}
	}
	return err
}

// Get returns the entry for digest, or nil.
func (s *BlobStore) Get(ctx context.Context, digest string) (*Blob, error) {
	var blob *Blob
	err := s.db.View(ctx, func(tx Tx) error {
		var err error
		blob, err = tx.GetBlob(digest)
		return err
	})
	return blob, err
}

// Open streams the bytes of digest. Returns an error wrapping ErrBlobNotFound
// when either the entry or the vault object is missing.
func (s *BlobStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	blob, err := s.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("digest %s has no entry: %w", digest, ErrBlobNotFound)
	}
	rc, err := s.vault.OpenBlob(ctx, blob.VaultID)
	if err != nil {
		return nil, fmt.Errorf("opening digest %s: %w", digest, err)
	}
	return rc, nil
}
