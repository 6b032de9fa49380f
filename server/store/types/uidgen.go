package types

import (
	"encoding/base64"
	"encoding/binary"
	"errors"

	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// 8 bytes of data are always encoded as 11 bytes of base64 + 1 byte of padding.
const uidBase64Unpadded = 11

// UidGenerator produces unique random-looking string ids, e.g. session ids.
// Snowflake guarantees uniqueness, XTEA hides the sequence.
type UidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initialises the generator. The key must be 16 bytes long.
func (ug *UidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ug.seq == nil {
		if ug.seq, err = sf.NewSnowFlake(uint32(workerID)); err != nil {
			return err
		}
	}
	if ug.cipher == nil {
		if ug.cipher, err = xtea.NewCipher(key); err != nil {
			return err
		}
	}

	return nil
}

// Get generates a unique weakly encrypted id.
func (ug *UidGenerator) Get() uint64 {
	buf, err := getIDBuffer(ug)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf)
}

// GetStr generates a unique id then returns it as base64-encoded string.
func (ug *UidGenerator) GetStr() string {
	buf, err := getIDBuffer(ug)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:uidBase64Unpadded]
}

func getIDBuffer(ug *UidGenerator) ([]byte, error) {
	if ug.seq == nil || ug.cipher == nil {
		return nil, errors.New("uid generator is not initialized")
	}
	id, err := ug.seq.Next()
	if err != nil {
		return nil, err
	}

	src := make([]byte, 8)
	dst := make([]byte, 8)
	binary.LittleEndian.PutUint64(src, id)
	ug.cipher.Encrypt(dst, src)

	return dst, nil
}
