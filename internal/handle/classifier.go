// Package handle implements the virtual/physical TPM handle bijection that
// the resource manager presents to each connection: a per-connection map
// from stable virtual handles to the entries tracking their physical,
// in-TPM counterpart.
package handle

import "github.com/google/go-tpm/tpm2"

// Kind is the upper byte of a TPM handle, identifying the entity type the
// handle refers to.
type Kind byte

// Handle kinds, per the TCG handle allocation table. Only Transient
// triggers virtualization; everything else is pass-through.
const (
	KindPCR           Kind = 0x00
	KindNVIndex       Kind = 0x01
	KindHMACSession   Kind = 0x02
	KindPolicySession Kind = 0x03
	KindPermanent     Kind = 0x40
	KindTransient     Kind = 0x80
	KindPersistent    Kind = 0x81
)

// Base is the first handle value in the transient range; vhandle
// allocation starts here by default.
const Base tpm2.TPMHandle = 0x80000000

// KindOf decodes the type range a handle belongs to.
func KindOf(h tpm2.TPMHandle) Kind {
	return Kind(h >> 24)
}

// IsTransient reports whether h falls in the transient handle range, the
// only range this resource manager virtualizes.
func IsTransient(h tpm2.TPMHandle) bool {
	return KindOf(h) == KindTransient
}
