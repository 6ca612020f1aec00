package simulation

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/mptcloud/covid-p2p-simulation/protocol"
)

// seeder derives every random stream of a run from one seed. The run seed
// is hashed into a master key; each stream gets an independent PCG seeded
// through HKDF with a stream-specific label. Streams are therefore
// uncorrelated, and a person's stream does not depend on how many draws
// another person made, which is what keeps parallel compute deterministic.
type seeder struct {
	master [32]byte
}

func newSeeder(seed uint64) *seeder {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	return &seeder{master: sha3.Sum256(buf[:])}
}

// rng derives the named stream.
func (s *seeder) rng(label string) (*rand.Rand, error) {
	kdf := hkdf.New(sha3.New256, s.master[:], nil, []byte(label))
	var raw [16]byte
	if _, err := io.ReadFull(kdf, raw[:]); err != nil {
		return nil, fmt.Errorf("deriving rng %q: %w", label, err)
	}
	pcg := rand.NewPCG(
		binary.BigEndian.Uint64(raw[0:8]),
		binary.BigEndian.Uint64(raw[8:16]),
	)
	return rand.New(pcg), nil
}

func (s *seeder) personRNG(id protocol.PersonID) (*rand.Rand, error) {
	return s.rng(fmt.Sprintf("person-%d", id))
}
