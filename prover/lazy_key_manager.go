package prover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"zkvote/vote-prover/logging"
	"zkvote/vote-prover/vote"
)

// LazyKeyManager reads the proving system for a depth the first time it is
// asked for, downloading the key file first when a downloader is set.
// Concurrent requests for the same depth share one load.
type LazyKeyManager struct {
	mu         sync.RWMutex
	systems    map[uint32]*ProvingSystem
	keysDir    string
	downloader *KeyDownloader
	loading    singleflight.Group
}

func NewLazyKeyManager(keysDir string, downloader *KeyDownloader) *LazyKeyManager {
	return &LazyKeyManager{
		systems:    make(map[uint32]*ProvingSystem),
		keysDir:    keysDir,
		downloader: downloader,
	}
}

func (m *LazyKeyManager) cached(depth uint32) (*ProvingSystem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps, ok := m.systems[depth]
	return ps, ok
}

func (m *LazyKeyManager) Get(depth uint32) (*ProvingSystem, error) {
	if depth > vote.MaxProofDepth {
		return nil, fmt.Errorf("%w: tree depth %d exceeds %d", vote.ErrMalformedInput, depth, vote.MaxProofDepth)
	}
	if ps, ok := m.cached(depth); ok {
		return ps, nil
	}

	v, err, shared := m.loading.Do(strconv.FormatUint(uint64(depth), 10), func() (interface{}, error) {
		if ps, ok := m.cached(depth); ok {
			return ps, nil
		}
		return m.load(depth)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Logger().Debug().Uint32("treeDepth", depth).Msg("Shared proving system load")
	}
	return v.(*ProvingSystem), nil
}

func (m *LazyKeyManager) load(depth uint32) (*ProvingSystem, error) {
	keyPath := filepath.Join(m.keysDir, KeyFileName(depth))
	logging.Logger().Info().
		Str("key_path", keyPath).
		Uint32("treeDepth", depth).
		Msg("Loading ProvingSystem")

	if m.downloader != nil {
		if err := m.downloader.DownloadKey(keyPath); err != nil {
			return nil, fmt.Errorf("failed to download key %s: %w", keyPath, err)
		}
	} else if _, err := os.Stat(keyPath); err != nil {
		return nil, fmt.Errorf("no proving system for tree depth %d: %w", depth, err)
	}

	ps, err := ReadSystemFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", keyPath, err)
	}
	if ps.TreeDepth != depth {
		return nil, fmt.Errorf("key file %s holds tree depth %d", keyPath, ps.TreeDepth)
	}

	m.Add(ps)
	logging.Logger().Info().
		Uint32("treeDepth", depth).
		Msg("ProvingSystem loaded and cached successfully")
	return ps, nil
}

// Add caches an already loaded system.
func (m *LazyKeyManager) Add(ps *ProvingSystem) {
	m.mu.Lock()
	m.systems[ps.TreeDepth] = ps
	m.mu.Unlock()
}

// Preload loads the given depths now, or every key file on disk when depths
// is empty.
func (m *LazyKeyManager) Preload(depths []uint32) error {
	if len(depths) == 0 {
		keys, err := GetKeys(m.keysDir, nil)
		if err != nil {
			return err
		}
		for _, key := range keys {
			depth, err := DepthFromKeyFile(key)
			if err != nil {
				return err
			}
			depths = append(depths, depth)
		}
	}
	if len(depths) == 0 {
		logging.Logger().Info().Msg("No keys to preload")
		return nil
	}

	for i, depth := range depths {
		logging.Logger().Info().
			Int("current", i+1).
			Int("total", len(depths)).
			Uint32("treeDepth", depth).
			Msg("Preloading key")
		if _, err := m.Get(depth); err != nil {
			return err
		}
	}
	return nil
}

func (m *LazyKeyManager) Depths() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	depths := make([]uint32, 0, len(m.systems))
	for depth := range m.systems {
		depths = append(depths, depth)
	}
	sort.Slice(depths, func(i, j int) bool { return depths[i] < depths[j] })
	return depths
}

// VerifyVote lets the manager serve as a ballot box verifier.
func (m *LazyKeyManager) VerifyVote(treeDepth uint32, outputs vote.PublicOutputs, proof *Proof) error {
	ps, err := m.Get(treeDepth)
	if err != nil {
		return err
	}
	return ps.VerifyVote(outputs, proof)
}
