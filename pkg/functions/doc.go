// Package functions simulates serverless functions.
//
// Invocations never run code. They return a synthetic result whose status
// depends on the invocation type and count towards the function's
// invocation total.
package functions
