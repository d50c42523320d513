package prover

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	gnarkio "github.com/consensys/gnark/io"
	"golang.org/x/sync/errgroup"

	"zkvote/vote-prover/logging"
)

const keyFilePrefix = "vote_"

func KeyFileName(depth uint32) string {
	return fmt.Sprintf("%s%d.key", keyFilePrefix, depth)
}

// DepthFromKeyFile parses vote_<depth>.key.
func DepthFromKeyFile(path string) (uint32, error) {
	name := strings.ToLower(filepath.Base(path))
	if !strings.HasPrefix(name, keyFilePrefix) || !strings.HasSuffix(name, ".key") {
		return 0, fmt.Errorf("not a vote key file: %s", path)
	}
	depth, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, keyFilePrefix), ".key"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not a vote key file: %s", path)
	}
	return uint32(depth), nil
}

// GetKeys lists the key files to load. With no depths given, every
// vote_<depth>.key in keysDir is used.
func GetKeys(keysDir string, depths []uint32) ([]string, error) {
	var keys []string
	if len(depths) == 0 {
		matches, err := filepath.Glob(filepath.Join(keysDir, keyFilePrefix+"*.key"))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if _, err := DepthFromKeyFile(match); err == nil {
				keys = append(keys, match)
			}
		}
		sort.Strings(keys)
	} else {
		seen := make(map[uint32]bool)
		for _, depth := range depths {
			if seen[depth] {
				continue
			}
			seen[depth] = true
			keys = append(keys, filepath.Join(keysDir, KeyFileName(depth)))
		}
	}

	logging.Logger().Info().
		Strs("keys", keys).
		Msg("Loading proving system keys")
	return keys, nil
}

func LoadKeys(keysDir string, depths []uint32) ([]*ProvingSystem, error) {
	keys, err := GetKeys(keysDir, depths)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no proving keys found in %s", keysDir)
	}

	systems := make([]*ProvingSystem, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			logging.Logger().Info().Msg("Reading proving system from file " + key + "...")
			ps, err := ReadSystemFromFile(key)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			logging.Logger().Info().
				Uint32("treeDepth", ps.TreeDepth).
				Msg("Read ProvingSystem")
			systems[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return systems, nil
}

func ReadSystemFromFile(path string) (*ProvingSystem, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ps := new(ProvingSystem)
	if _, err = ps.UnsafeReadFrom(file); err != nil {
		return nil, err
	}
	if depth, err := DepthFromKeyFile(path); err == nil && depth != ps.TreeDepth {
		return nil, fmt.Errorf("key file is named for depth %d but holds depth %d", depth, ps.TreeDepth)
	}
	return ps, nil
}

// WriteProvingSystem writes the system to path and, when pathVkey is set,
// the raw verifying key next to it for on-chain verifier generation.
func WriteProvingSystem(ps *ProvingSystem, path string, pathVkey string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	written, err := ps.WriteTo(file)
	if err != nil {
		return err
	}
	logging.Logger().Info().Int64("bytesWritten", written).Msg("Proving system written to file")

	if pathVkey != "" {
		return WriteVerifyingKey(ps, pathVkey)
	}
	return nil
}

func WriteVerifyingKey(ps *ProvingSystem, path string) error {
	var buf bytes.Buffer
	if _, err := ps.VerifyingKey.(gnarkio.WriterRawTo).WriteRawTo(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	logging.Logger().Info().Int("bytesWritten", buf.Len()).Str("path", path).Msg("Verifying key written to file")
	return nil
}

func LoadProvingKey(filepath string) (pk groth16.ProvingKey, err error) {
	logging.Logger().Info().
		Str("filepath", filepath).
		Msg("start reading proving key")

	pk = groth16.NewProvingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return pk, fmt.Errorf("error opening proving key file: %w", err)
	}
	defer f.Close()

	n, err := pk.ReadFrom(f)
	if err != nil {
		return pk, fmt.Errorf("error reading proving key: %w", err)
	}

	logging.Logger().Info().
		Str("filepath", filepath).
		Int64("bytesRead", n).
		Msg("successfully read proving key")
	return pk, nil
}

func LoadVerifyingKey(filepath string) (groth16.VerifyingKey, error) {
	logging.Logger().Info().Str("filepath", filepath).Msg("start reading verifying key")
	verifyingKey := groth16.NewVerifyingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("error opening verifying key file: %w", err)
	}
	defer f.Close()

	if _, err = verifyingKey.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("error reading verifying key: %w", err)
	}
	return verifyingKey, nil
}
