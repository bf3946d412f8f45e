package wire

import "github.com/google/go-tpm/tpm2"

// Response-code construction for errors this resource manager synthesizes
// itself, without ever reaching the TPM. These follow the TSS2 RC layering
// convention (a layer code in the upper bits, a base code in the lower
// ones) and the TPM2 format-1 handle/parameter error encoding.
const (
	// ResmgrErrorLevel is the layer code this resource manager ORs into
	// every locally synthesized response code, so a client can tell a
	// resource-manager-local rejection from a TPM-reported one.
	ResmgrErrorLevel tpm2.TPMRC = 0x00090000

	baseRCMemory tpm2.TPMRC = 0x0000000a

	// RCObjectMemory is returned when the quota gate rejects a command
	// because the connection's handle map is already full.
	RCObjectMemory = ResmgrErrorLevel | baseRCMemory
)

// Format-1 error encoding bits (TPM2 part 2, table "Format-One Response
// Codes").
const (
	fmt1Bit     tpm2.TPMRC = 0x080
	parameter   tpm2.TPMRC = 0x040
	rcHandleVal tpm2.TPMRC = 0x00B
)

// HandleParamError builds TPM_RC_HANDLE | TPM_RC_P | TPM_RC_<index>, the
// convention this resource manager uses to reject a FlushContext of a
// vhandle with no live entry. index is 1-based, matching the TPM
// parameter-numbering convention.
func HandleParamError(index uint) tpm2.TPMRC {
	return fmt1Bit | rcHandleVal | parameter | (tpm2.TPMRC(index) << 8)
}
