package jwt

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSJSON builds a deterministic JWKS document from kid -> public key.
// Keys are sorted by kid and alg is omitted so multiple algorithms can
// rotate behind one document.
func JWKSJSON(keys map[string]*rsa.PublicKey) ([]byte, error) {
	kids := make([]string, 0, len(keys))
	for kid := range keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	set := jwk.NewSet()
	for _, kid := range kids {
		k, err := jwk.FromRaw(keys[kid])
		if err != nil {
			return nil, fmt.Errorf("convert key %s: %w", kid, err)
		}
		if err := k.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, err
		}
		if err := k.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(k); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}
