package main

// exitCodeError carries a process exit code alongside an error: 0 success,
// 1 evaluation/parse error, 2 invalid CLI usage.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return "" }

func errExitCode(code int) error {
	return &exitCodeError{code: code}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(*exitCodeError); ok {
		return ec.code
	}
	return 1
}
