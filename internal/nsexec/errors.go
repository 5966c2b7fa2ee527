package nsexec

import "errors"

// ErrEmptyArgv is returned when Run is called with no command to execute.
var ErrEmptyArgv = errors.New("nsexec: empty argv")
