package main

import (
	"simuser.ai/internal/protocol"
)

// Process exit codes.
const (
	exitOK               = 0
	exitStartup          = 1
	exitConnection       = 2
	exitHandshakeTimeout = 3
	exitStepTimeout      = 4
	exitProtocol         = 5
	exitCapture          = 6
	exitSend             = 7
)

var exitCodes = map[string]int{
	protocol.ErrCodeConnection:       exitConnection,
	protocol.ErrCodeHandshakeTimeout: exitHandshakeTimeout,
	protocol.ErrCodeStepTimeout:      exitStepTimeout,
	protocol.ErrCodeProtocol:         exitProtocol,
	protocol.ErrCodeCapture:          exitCapture,
	protocol.ErrCodeSend:             exitSend,
}

func exitCodeFor(err error) int {
	if err == nil || isStop(err) {
		return exitOK
	}
	if code, ok := exitCodes[protocol.CodeOf(err)]; ok {
		return code
	}
	return exitStartup
}

func codeName(err error) string {
	if c := protocol.CodeOf(err); c != "" {
		return c
	}
	return "E_STARTUP"
}
