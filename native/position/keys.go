package position

import (
	"math/big"

	"lpvault/crypto"
)

var (
	custodyPrefix = []byte("position/custody/")
	indexPrefix   = []byte("position/index/")
)

func custodyKey(custodian crypto.Address, positionID *big.Int) []byte {
	var id [32]byte
	positionID.FillBytes(id[:])
	buf := make([]byte, 0, len(custodyPrefix)+20+32)
	buf = append(buf, custodyPrefix...)
	buf = append(buf, custodian.Bytes()...)
	buf = append(buf, id[:]...)
	return buf
}

func indexKey(custodian, owner crypto.Address) []byte {
	buf := make([]byte, 0, len(indexPrefix)+40)
	buf = append(buf, indexPrefix...)
	buf = append(buf, custodian.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	return buf
}
