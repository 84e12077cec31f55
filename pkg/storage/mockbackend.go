package storage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// DefaultMockLatency is the fixed synthetic round-trip latency applied to
// every mock backend operation.
const DefaultMockLatency = 5 * time.Millisecond

func mockKeyHash(key string) uint32 {
	return uint32(xxhash.Sum64String(key))
}

// Format describes the deterministic key/value shape MockBackend
// synthesizes values from when no image has been loaded: keys look like
// `K<offset>s<size><pad>L` and MakeValue produces a matching
// `V<offset>s<size><pad>L` value of exactly ValSize bytes.
type Format struct {
	KeySize   uint32
	ValSize   uint32
	SizeLen   uint32
	OffsetLen uint32
	KPadLen   uint32
	VPadLen   uint32
}

// NewFormat derives the padding layout for a key/value size pair, matching
// update_mock_format's validation: both sizes must leave room for the
// fixed `K`/`V`, `s`, `L` framing bytes and the encoded offset/size digits.
func NewFormat(keySize, valSize uint32) (Format, error) {
	sizeLen := uint32(len(strconv.FormatUint(uint64(keySize), 10)))
	if l := uint32(len(strconv.FormatUint(uint64(valSize), 10))); l > sizeLen {
		sizeLen = l
	}

	minSize := keySize
	if valSize < minSize {
		minSize = valSize
	}
	leastLenLeft := int64(minSize) - 3 - int64(sizeLen)
	if leastLenLeft <= 0 {
		return Format{}, errors.New("storage: incorrect kv format: least_len_left <= 0")
	}
	offsetLen := uint32(leastLenLeft)
	if offsetLen > 10 {
		offsetLen = 10
	}

	kPadLen := int64(keySize) - 3 - int64(sizeLen) - int64(offsetLen)
	if kPadLen < 0 {
		return Format{}, errors.New("storage: incorrect kv format: k_pad_len < 0")
	}
	vPadLen := int64(valSize) - 3 - int64(sizeLen) - int64(offsetLen)
	if vPadLen < 0 {
		return Format{}, errors.New("storage: incorrect kv format: v_pad_len < 0")
	}

	return Format{
		KeySize: keySize, ValSize: valSize, SizeLen: sizeLen,
		OffsetLen: offsetLen, KPadLen: uint32(kPadLen), VPadLen: uint32(vPadLen),
	}, nil
}

// MakeValue synthesizes the value a real store would hold for key, per
// this Format. key must match the `K<offset>s...` shape this format
// produces.
func (f Format) MakeValue(key string) (string, error) {
	if uint32(len(key)) != f.KeySize {
		return "", errors.Newf("storage: incorrect kv format: key length mismatch: %s", key)
	}
	if key[0] != 'K' {
		return "", errors.Newf("storage: invalid key format: leading char must be 'K': %s", key)
	}

	offset := 0
	for i := 1; i < len(key); i++ {
		if key[i] == 's' {
			break
		}
		if key[i] < '0' || key[i] > '9' {
			return "", errors.Newf("storage: invalid key format: non-digit char found in offset: %s", key)
		}
		offset = offset*10 + int(key[i]-'0')
	}

	var b strings.Builder
	b.WriteByte('V')
	fmt.Fprintf(&b, "%0*d", f.OffsetLen, offset)
	b.WriteByte('s')
	fmt.Fprintf(&b, "%0*d", f.SizeLen, f.ValSize)
	b.WriteString(strings.Repeat("A", int(f.VPadLen)))
	b.WriteByte('L')
	return b.String(), nil
}

type pendingOp struct {
	ready time.Time
	fire  func()
}

// MockBackend is a deterministic stand-in for a remote key/value store: it
// either synthesizes values from a Format, or serves sizes from a loaded
// image (a CSV of key,val_size pairs indexed by key hash — mirroring the
// source's space-efficient "store only the hash and size" choice). Every
// operation completes after a fixed synthetic latency, drained by Poll
// rather than by a real timer goroutine, so completion order is
// deterministic under test.
type MockBackend struct {
	mu      sync.Mutex
	format  Format
	image   map[uint32]uint32 // nil until EnableImage is called
	latency time.Duration
	pending []pendingOp
}

// NewMockBackend builds a mock backend using the default key/value format
// (16-byte keys, 500-byte values, matching the source's init() default).
func NewMockBackend() *MockBackend {
	format, err := NewFormat(16, 500)
	if err != nil {
		panic(err) // the default format is always valid
	}
	return &MockBackend{format: format, latency: DefaultMockLatency}
}

// SetLatency overrides the fixed synthetic round-trip latency every
// subsequent operation completes after. Mainly useful in tests that need
// a wider window to race a concurrent request against an inflight one.
func (m *MockBackend) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetFormat replaces the synthesis format used while no image is loaded.
func (m *MockBackend) SetFormat(keySize, valSize uint32) error {
	f, err := NewFormat(keySize, valSize)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.format = f
	m.mu.Unlock()
	return nil
}

// Format reports the currently active synthesis format.
func (m *MockBackend) Format() Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// EnableImage switches the backend from format-synthesis mode to
// image-lookup mode (lazily allocating an empty image the first time).
// Once enabled, the backend no longer uses the synthesis format.
func (m *MockBackend) EnableImage() {
	m.mu.Lock()
	if m.image == nil {
		m.image = make(map[uint32]uint32)
	}
	m.mu.Unlock()
}

// LoadImage reads a `key,val_size` CSV (header line `key,val_size`) into
// the image table, enabling image mode if it wasn't already. Entries
// already in the table are kept; a key present in both takes the new size.
func (m *MockBackend) LoadImage(r io.Reader) error {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return errors.New("storage: empty image file")
	}
	if sc.Text() != "key,val_size" {
		return errors.New("storage: image file missing key,val_size header")
	}

	image := make(map[uint32]uint32)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.LastIndexByte(line, ',')
		if idx < 0 {
			return errors.Newf("storage: malformed image line: %q", line)
		}
		key, sizeStr := line[:idx], line[idx+1:]
		valSize, err := strconv.ParseUint(sizeStr, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "storage: malformed val_size in line %q", line)
		}
		image[mockKeyHash(key)] = uint32(valSize)
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "storage: read image")
	}

	m.mu.Lock()
	// Build a new map rather than writing into the old one: GetAsync reads
	// its snapshot of m.image without holding mu.
	for k, v := range m.image {
		if _, ok := image[k]; !ok {
			image[k] = v
		}
	}
	m.image = image
	m.mu.Unlock()
	return nil
}

// GetAsync implements Backend.
func (m *MockBackend) GetAsync(key string, onOK func(string), onErr func(string)) {
	m.mu.Lock()
	image, format := m.image, m.format
	m.mu.Unlock()

	var value string
	var errMsg string
	if image != nil {
		size, ok := image[mockKeyHash(key)]
		if !ok {
			errMsg = "key not found in image"
		} else {
			value = strings.Repeat("v", int(size))
		}
	} else {
		v, err := format.MakeValue(key)
		if err != nil {
			errMsg = err.Error()
		} else {
			value = v
		}
	}

	m.schedule(func() {
		if errMsg != "" {
			onErr(errMsg)
			return
		}
		onOK(value)
	})
}

// PutAsync implements Backend.
func (m *MockBackend) PutAsync(key, value string, onOK func(), onErr func(string)) {
	m.mu.Lock()
	if m.image != nil {
		m.image[mockKeyHash(key)] = uint32(len(value))
	}
	m.mu.Unlock()

	m.schedule(func() {
		onOK()
	})
}

func (m *MockBackend) schedule(fire func()) {
	m.mu.Lock()
	latency := m.latency
	m.mu.Unlock()
	m.pending = append(m.pending, pendingOp{ready: time.Now().Add(latency), fire: fire})
}

// Poll implements Poller: it fires the oldest pending completion if its
// latency has elapsed, returning whether it did. Only ever called from the
// worker goroutine, so pending needs no locking.
func (m *MockBackend) Poll() bool {
	if len(m.pending) == 0 {
		return false
	}
	op := m.pending[0]
	if time.Now().Before(op.ready) {
		return false
	}
	m.pending = m.pending[1:]
	op.fire()
	return true
}
