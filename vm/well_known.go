package vm

// Well-known symbols have the same ID in every VM.
const (
	SymEmpty Symbol = iota
	SymLength
	SymPrototype
	SymConstructor
	SymName
	SymMessage
	SymStack
	SymCause
	SymValue
	SymDone
	SymNext
	SymReturn
	SymThrow
	SymThen
	SymCatch
	SymGet
	SymSet
	SymWritable
	SymEnumerable
	SymConfigurable
	SymToString
	SymValueOf
	SymUndefined
	SymNull
	SymTrue
	SymFalse
	SymNaN
	SymInfinity
	SymNegInfinity
	SymObject
	SymFunction
	SymNumber
	SymString
	SymBoolean
	SymAnonymous
	SymGlobalThis
	SymError
	SymTypeError
	SymRangeError
	SymReferenceError
	SymSyntaxError
	SymInternalError
	SymPromise
	SymGenerator
	SymCall
	SymHasOwnProperty

	// NumWellKnown is the count of well-known symbols.
	NumWellKnown
)

var wellKnownNames = [NumWellKnown]string{
	SymEmpty:          "",
	SymLength:         "length",
	SymPrototype:      "prototype",
	SymConstructor:    "constructor",
	SymName:           "name",
	SymMessage:        "message",
	SymStack:          "stack",
	SymCause:          "cause",
	SymValue:          "value",
	SymDone:           "done",
	SymNext:           "next",
	SymReturn:         "return",
	SymThrow:          "throw",
	SymThen:           "then",
	SymCatch:          "catch",
	SymGet:            "get",
	SymSet:            "set",
	SymWritable:       "writable",
	SymEnumerable:     "enumerable",
	SymConfigurable:   "configurable",
	SymToString:       "toString",
	SymValueOf:        "valueOf",
	SymUndefined:      "undefined",
	SymNull:           "null",
	SymTrue:           "true",
	SymFalse:          "false",
	SymNaN:            "NaN",
	SymInfinity:       "Infinity",
	SymNegInfinity:    "-Infinity",
	SymObject:         "object",
	SymFunction:       "function",
	SymNumber:         "number",
	SymString:         "string",
	SymBoolean:        "boolean",
	SymAnonymous:      "anonymous",
	SymGlobalThis:     "globalThis",
	SymError:          "Error",
	SymTypeError:      "TypeError",
	SymRangeError:     "RangeError",
	SymReferenceError: "ReferenceError",
	SymSyntaxError:    "SyntaxError",
	SymInternalError:  "InternalError",
	SymPromise:        "Promise",
	SymGenerator:      "Generator",
	SymCall:           "call",
	SymHasOwnProperty: "hasOwnProperty",
}
