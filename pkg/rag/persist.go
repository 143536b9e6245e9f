package rag

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// On-disk layout: <dir>/tools.index holds the raw vectors, <dir>/tools.json
// holds the metadata sidecar. Writes go through a tmp file plus rename, under
// a file lock shared with any sibling process.
const (
	vectorFile = "tools.index"
	metaFile   = "tools.json"
	lockFile   = "tools.lock"
)

// indexMagic guards against loading a foreign or truncated vector file.
var indexMagic = [4]byte{'D', 'V', 'I', '1'}

// Save persists the index atomically.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	vectors, meta := x.snapshot()

	if err := writeAtomic(filepath.Join(dir, vectorFile), func(f *os.File) error {
		return encodeVectors(f, x.dim, vectors)
	}); err != nil {
		return fmt.Errorf("write vector file: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metaFile), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

// Load reads a previously saved index from dir. Returns os.ErrNotExist when
// no index has been saved yet; any integrity failure is an error so the
// caller rebuilds from scratch.
func Load(dir string, dim int) (*Index, error) {
	lock := flock.New(filepath.Join(dir, lockFile))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	vf, err := os.Open(filepath.Join(dir, vectorFile))
	if err != nil {
		return nil, err
	}
	defer func() { _ = vf.Close() }()
	vectors, err := decodeVectors(vf, dim)
	if err != nil {
		return nil, fmt.Errorf("decode vector file: %w", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata file: %w", err)
	}

	x := NewIndex(dim)
	x.restore(vectors, meta)
	if err := x.Verify(); err != nil {
		return nil, fmt.Errorf("loaded index failed verification: %w", err)
	}
	return x, nil
}

// writeAtomic writes through a tmp file in the same directory and renames it
// over the target.
func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeVectors(f *os.File, dim int, vectors [][]float32) error {
	if _, err := f.Write(indexMagic[:]); err != nil {
		return err
	}
	header := []uint32{uint32(dim), uint32(len(vectors))}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, vec := range vectors {
		for _, v := range vec {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := f.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeVectors(f *os.File, wantDim int) ([][]float32, error) {
	var magic [4]byte
	if _, err := f.Read(magic[:]); err != nil {
		return nil, err
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("unrecognized vector file header")
	}
	header := make([]uint32, 2)
	if err := binary.Read(f, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	dim, count := int(header[0]), int(header[1])
	if dim != wantDim {
		return nil, fmt.Errorf("vector file has dimension %d, want %d", dim, wantDim)
	}

	vectors := make([][]float32, count)
	raw := make([]uint32, dim)
	for i := range vectors {
		if err := binary.Read(f, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("vector %d truncated: %w", i, err)
		}
		vec := make([]float32, dim)
		for j, bits := range raw {
			vec[j] = math.Float32frombits(bits)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
