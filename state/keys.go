package state

var (
	tokenConfigPrefix = []byte("vault/token/")
	tokenIndexKey     = []byte("vault/token-index")
	poolPrefix        = []byte("vault/pool/")
	positionPrefix    = []byte("vault/position/")
	balancePrefix     = []byte("vault/balance/")
	debtSupplyKey     = []byte("vault/debt/supply")
	debtRecordedKey   = []byte("vault/debt/recorded")
)

func tokenConfigKey(symbol string) []byte {
	return append(append([]byte(nil), tokenConfigPrefix...), symbol...)
}

func poolKey(symbol string) []byte {
	return append(append([]byte(nil), poolPrefix...), symbol...)
}

func positionKey(key string) []byte {
	return append(append([]byte(nil), positionPrefix...), key...)
}

func balanceKey(owner, token string) []byte {
	out := append([]byte(nil), balancePrefix...)
	out = append(out, owner...)
	out = append(out, '/')
	return append(out, token...)
}
