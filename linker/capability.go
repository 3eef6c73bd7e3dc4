package linker

import (
	"context"

	"go.uber.org/zap"

	ferrors "github.com/mengsuenyan/fce/errors"
	"github.com/mengsuenyan/fce/itype"
)

// CapabilityNamespace is the import namespace served by built-in
// capabilities rather than modules or embedder host functions.
const CapabilityNamespace = "host"

// builtinCapabilities returns the import targets every registry provides.
// Guests declare them like any other import, e.g.
//
//	import host.log: func(msg: string)
func builtinCapabilities() map[string]hostEntry {
	return map[string]hostEntry{
		CapabilityNamespace + ".log": {
			sig: itype.FuncSignature{
				Name:   "log",
				Params: []itype.Param{{Name: "msg", Type: itype.StringT}},
			},
			fn: capLog,
		},
	}
}

// capLog forwards a guest string to the linker's logger.
func capLog(_ context.Context, args []itype.Value) ([]itype.Value, error) {
	if len(args) != 1 || args[0].Kind() != itype.KindString {
		return nil, ferrors.New(ferrors.PhaseTrap, ferrors.KindInvalidInput).
			Name(CapabilityNamespace + ".log").
			Detail("expected a single string argument").
			Build()
	}
	Logger().Info("guest log", zap.String("msg", args[0].Str()))
	return nil, nil
}
