package testsupport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nebulaktv/model"
	"nebulaktv/repository"

	"github.com/google/uuid"
)

// SongStore is an in-memory repository.SongRepository.
type SongStore struct {
	mu    sync.Mutex
	songs map[uuid.UUID]*model.Song
	// History records every status written, in order.
	History []model.SongStatus
}

func NewSongStore() *SongStore {
	return &SongStore{songs: make(map[uuid.UUID]*model.Song)}
}

var _ repository.SongRepository = (*SongStore)(nil)

// Put inserts a copy of song, overwriting any existing one.
func (s *SongStore) Put(song model.Song) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := song
	cp.MetaJSON = cloneMeta(song.MetaJSON)
	s.songs[song.ID] = &cp
}

func (s *SongStore) Create(_ context.Context, song *model.Song) error {
	if song.ID == uuid.Nil {
		song.ID = uuid.New()
	}
	if song.Status == "" {
		song.Status = model.StatusPending
	}
	s.Put(*song)
	return nil
}

func (s *SongStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	song, ok := s.songs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *song
	cp.MetaJSON = cloneMeta(song.MetaJSON)
	return &cp, nil
}

func (s *SongStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SongStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	song, ok := s.songs[id]
	if !ok {
		return repository.ErrNotFound
	}
	song.Status = status
	song.UpdatedAt = time.Now()
	s.History = append(s.History, status)
	return nil
}

func (s *SongStore) MergeMetadata(_ context.Context, id uuid.UUID, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	song, ok := s.songs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if song.MetaJSON == nil {
		song.MetaJSON = model.SongMeta{}
	}
	song.MetaJSON[key] = value
	return nil
}

func (s *SongStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "processing failed"
	}
	if err := s.MergeMetadata(ctx, id, model.MetaErrorKey, reason); err != nil {
		return err
	}
	return s.UpdateStatus(ctx, id, model.StatusFailed)
}

// Statuses returns a copy of the recorded status history.
func (s *SongStore) Statuses() []model.SongStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SongStatus(nil), s.History...)
}

func cloneMeta(m model.SongMeta) model.SongMeta {
	if m == nil {
		return nil
	}
	raw, _ := json.Marshal(m)
	var out model.SongMeta
	_ = json.Unmarshal(raw, &out)
	return out
}

// AssetStore is an in-memory repository.MediaAssetRepository.
type AssetStore struct {
	mu     sync.Mutex
	assets []*model.MediaAsset
	// FailKinds makes Create and Upsert fail for the listed kinds.
	FailKinds map[model.AssetKind]error
}

func NewAssetStore() *AssetStore {
	return &AssetStore{}
}

var _ repository.MediaAssetRepository = (*AssetStore)(nil)

func (s *AssetStore) Create(_ context.Context, asset *model.MediaAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailKinds[asset.Kind]; err != nil {
		return err
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	asset.CreatedAt = time.Now()
	cp := *asset
	s.assets = append(s.assets, &cp)
	return nil
}

func (s *AssetStore) Upsert(ctx context.Context, asset *model.MediaAsset) ([]uuid.UUID, error) {
	s.mu.Lock()
	if err := s.FailKinds[asset.Kind]; err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var replaced []uuid.UUID
	kept := s.assets[:0]
	for _, a := range s.assets {
		if a.SongID == asset.SongID && a.Kind == asset.Kind {
			replaced = append(replaced, a.ID)
			continue
		}
		kept = append(kept, a)
	}
	s.assets = kept
	s.mu.Unlock()
	if err := s.Create(ctx, asset); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *AssetStore) GetByID(_ context.Context, id uuid.UUID) (*model.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *AssetStore) ListBySong(_ context.Context, songID uuid.UUID) ([]*model.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.MediaAsset
	for _, a := range s.assets {
		if a.SongID == songID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) FirstBySongAndKind(_ context.Context, songID uuid.UUID, kind model.AssetKind) (*model.MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assets {
		if a.SongID == songID && a.Kind == kind {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *AssetStore) KindsBySong(_ context.Context, songID uuid.UUID) ([]model.AssetKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[model.AssetKind]bool{}
	var kinds []model.AssetKind
	for _, a := range s.assets {
		if a.SongID == songID && !seen[a.Kind] {
			seen[a.Kind] = true
			kinds = append(kinds, a.Kind)
		}
	}
	return kinds, nil
}

func (s *AssetStore) DeleteBySong(_ context.Context, songID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.assets[:0]
	for _, a := range s.assets {
		if a.SongID == songID {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.assets = kept
	return n, nil
}
