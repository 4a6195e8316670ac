package main

import (
	"fmt"
	"os"

	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
)

func main() {
	root := newRoot()
	rootCmd := root.Command()

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		if uerr, ok := err.(usageError); ok {
			cmd.PrintErrln(uerr.Error())
			cmd.PrintErrln("")
			cmd.PrintErrln(cmd.UsageString())
		} else if ferr := userError(err); ferr != nil {
			fmt.Fprintln(os.Stderr, ferr.Help)
		} else {
			fmt.Fprintln(os.Stderr, fluxerr.CoverAllError(err).Help)
		}
		os.Exit(1)
	}
}

// userError finds the outermost error with help for the user, if there
// is one in the chain of causes.
func userError(err error) *fluxerr.Error {
	for err != nil {
		if ferr, ok := err.(*fluxerr.Error); ok && ferr.Help != "" {
			return ferr
		}
		if uerr, ok := err.(interface{ UserError() *fluxerr.Error }); ok {
			return uerr.UserError()
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return nil
		}
		err = causer.Cause()
	}
	return nil
}
