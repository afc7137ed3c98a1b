// Package shared holds code used across the intake packages that belongs to
// no single layer.
//
// The testutil subpackage provides a capturing slog handler and builders for
// market stream fixtures wrapped in every supported archive envelope:
//
//	data := testutil.Stream(
//	    testutil.DefinitionLine("1.1", "OPEN", 101, 102),
//	    testutil.ChangeLine("1.1", 101, "REMOVED"),
//	)
//	archive := testutil.Bzip2(t, data)
package shared
