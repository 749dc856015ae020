// Package secure keeps the 1Password service-account token out of ordinary
// heap memory for the life of the process.
//
// The token is sealed in a memguard enclave (encrypted at rest, mlocked where
// the platform allows) and only decrypted for the instant a child process
// environment is built:
//
//	tok := secure.NewToken(os.Getenv("OP_SERVICE_ACCOUNT_TOKEN"))
//	defer tok.Destroy()
//
//	env, err := tok.Env("OP_SERVICE_ACCOUNT_TOKEN")
//
// Call memguard.Purge (via secure.Purge) from main before exiting.
package secure
