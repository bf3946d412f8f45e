package quota

import (
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/stretchr/testify/require"

	"github.com/tpm2-software/tpm2rmd/internal/handle"
)

func TestRequiresSlot(t *testing.T) {
	require.True(t, RequiresSlot(tpm2.TPMCCCreatePrimary))
	require.True(t, RequiresSlot(tpm2.TPMCCLoad))
	require.True(t, RequiresSlot(tpm2.TPMCCLoadExternal))
	require.False(t, RequiresSlot(tpm2.TPMCCReadPublic))
	require.False(t, RequiresSlot(tpm2.TPMCCFlushContext))
}

func TestCheckRejectsWhenFull(t *testing.T) {
	m := handle.NewMap(1, handle.Base)
	require.NoError(t, m.Insert(handle.Base, handle.NewEntry(handle.Base, 0x80000001, nil)))

	require.False(t, Check(m, tpm2.TPMCCLoad))
	require.True(t, Check(m, tpm2.TPMCCReadPublic), "non-creating commands always pass the gate")
}

func TestCheckAllowsWhenNotFull(t *testing.T) {
	m := handle.NewMap(4, handle.Base)
	require.True(t, Check(m, tpm2.TPMCCCreatePrimary))
}
