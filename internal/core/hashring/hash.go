package hashring

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	coreerrors "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/cespare/xxhash/v2"
)

// HashType names one of the supported ring position functions.
// Every variant maps into [0, 0xffff] so positions are comparable across variants.
type HashType int

const (
	HashMD5 HashType = iota
	HashCRC32
	HashXX
)

// String returns the configuration name of the variant.
func (h HashType) String() string {
	switch h {
	case HashMD5:
		return "md5"
	case HashCRC32:
		return "crc32"
	case HashXX:
		return "hash"
	default:
		return fmt.Sprintf("HashType(%d)", int(h))
	}
}

// ParseHashType resolves a configured hash name. The empty string selects md5.
func ParseHashType(s string) (HashType, error) {
	switch s {
	case "", "md5":
		return HashMD5, nil
	case "crc32":
		return HashCRC32, nil
	case "hash":
		return HashXX, nil
	default:
		return 0, fmt.Errorf("%w: %q", coreerrors.ErrUnsupportedHash, s)
	}
}

// positionFunc returns the pure key -> position function for h.
func (h HashType) positionFunc() (func(string) uint16, error) {
	switch h {
	case HashMD5:
		return md5Position, nil
	case HashCRC32:
		return crc32Position, nil
	case HashXX:
		return xxPosition, nil
	default:
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnsupportedHash, h)
	}
}

// md5Position takes the leading 16 bits of the digest (the first four hex digits).
func md5Position(key string) uint16 {
	sum := md5.Sum([]byte(key))
	return binary.BigEndian.Uint16(sum[:2])
}

func crc32Position(key string) uint16 {
	return uint16(crc32.ChecksumIEEE([]byte(key)) & 0xffff)
}

func xxPosition(key string) uint16 {
	return uint16(xxhash.Sum64String(key) & 0xffff)
}
