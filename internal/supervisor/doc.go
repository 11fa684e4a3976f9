// Package supervisor starts and stops backend worker processes.
//
// The exec supervisor launches one child process per server id, passes the
// id and port through the environment, and only reports a start as done
// once the worker answers its health endpoint. The detached supervisor is
// used when workers are managed outside this process; it only tracks the
// administrative on/off state.
package supervisor
