package swap

import "github.com/ethereum/go-ethereum/common"

var (
	pairStatePrefix   = []byte("swap/pair/")
	oracleStatePrefix = []byte("swap/oracle/")
)

func pairStateKey(pair common.Address) []byte {
	buf := make([]byte, len(pairStatePrefix)+common.AddressLength)
	copy(buf, pairStatePrefix)
	copy(buf[len(pairStatePrefix):], pair.Bytes())
	return buf
}

func oracleStateKey(pair common.Address) []byte {
	buf := make([]byte, len(oracleStatePrefix)+common.AddressLength)
	copy(buf, oracleStatePrefix)
	copy(buf[len(oracleStatePrefix):], pair.Bytes())
	return buf
}
