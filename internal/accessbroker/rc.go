package accessbroker

import (
	"errors"

	"github.com/google/go-tpm/tpm2"
)

// genericFailure is returned to the client when a broker-reported error
// carries no TPM response code of its own (a transport failure rather
// than a TPM-issued rejection).
const genericFailure tpm2.TPMRC = 0x0001

// RCFromError extracts the TPM response code carried by err, if any. Most
// broker failures wrap a *tpm2.TPMError produced by Execute; anything else
// (a transport error, a context unmarshal failure) falls back to a generic
// non-zero code so the caller never forwards a false "success".
func RCFromError(err error) tpm2.TPMRC {
	var tpmErr *tpm2.TPMError
	if errors.As(err, &tpmErr) {
		return tpmErr.Code
	}

	return genericFailure
}
