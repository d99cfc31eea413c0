package session

import "golang.org/x/crypto/bcrypt"

// HashPairPassword derives the hash a controlled device configures for
// its control-request gate.
func HashPairPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPairPassword compares a supplied pair password against the
// configured hash. bcrypt's comparison is constant-time over the digest,
// so timing does not leak how close a guess was. An empty hash means no
// password is configured and any value passes.
func CheckPairPassword(expectedHash, supplied string) bool {
	if expectedHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(supplied)) == nil
}
