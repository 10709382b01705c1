// Package register models the inverter's registers.
//
// It owns three tables: registers (metadata), register_groups (display
// grouping) and register_values (the last known or last commanded value
// of each register). The value table is the cache the command builder
// reads when it has to rewrite the Grid First block as a whole.
//
//	1070 ............................................ 1088
//	|0064|000a|0000|0000|0000|002a|...|130f|0000|...|0000|
//	  ^ decimal registers        ^ override   ^ time registers packed HH*256+MM
//
// PackTimeValue and BuildMultiRegisterPayload implement the wire encoding.
// The payload is rendered from a snapshot of the cache taken at build time;
// nothing here locks the cache across the read and the following write.
package register
