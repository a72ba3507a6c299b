package vault

var (
	globalKeyBytes     = []byte("vault/global")
	sourceListKeyBytes = []byte("vault/sources")
	sourcePrefix       = []byte("vault/source/")
	depositPrefix      = []byte("vault/deposit/")
	ownerPrefix        = []byte("vault/owner/")
)

func sourceKey(addr [20]byte) []byte {
	buf := make([]byte, len(sourcePrefix)+len(addr))
	copy(buf, sourcePrefix)
	copy(buf[len(sourcePrefix):], addr[:])
	return buf
}

func depositKey(id [32]byte) []byte {
	buf := make([]byte, len(depositPrefix)+len(id))
	copy(buf, depositPrefix)
	copy(buf[len(depositPrefix):], id[:])
	return buf
}

// ownerKey indexes depositID to depositor independently of the deposit record
// itself; both entries must agree before withdraw or liquidate succeeds.
func ownerKey(id [32]byte) []byte {
	buf := make([]byte, len(ownerPrefix)+len(id))
	copy(buf, ownerPrefix)
	copy(buf[len(ownerPrefix):], id[:])
	return buf
}
