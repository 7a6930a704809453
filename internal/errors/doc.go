// Package errors provides structured, actionable error messages for the
// syncot command.
//
// Every error has a code (e.g., "E101") that maps to a short message and a
// longer explanation. Errors about the configuration file carry the file
// location and the surrounding lines.
//
// # Error Categories
//
//   - config: the configuration file is missing, malformed or invalid
//   - cli: command arguments could not be parsed
//   - transport: the server or a connection failed
//   - protocol: TSON input or output is invalid
//   - service: a remote request failed
//
// # Usage
//
//	err := errors.New("E101").
//	    WithLocation("syncot.toml", 3, 10).
//	    WithSuggestion("Quote string values")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E101: Configuration file is not valid TOML
//	//
//	//   syncot.toml:3:10
//	//
//	//       1 │ [server]
//	//       2 │ address = ":8080"
//	//   →   3 │ path = /sync
//	//         │          ^
//	//
//	//   Hint: Quote string values
package errors
