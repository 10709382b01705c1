// Package command turns a schedule's command fields into a concrete
// device Command.
//
// A Command is a tagged union over five kinds: read, register (single
// write), multiregister (block write), custom (arbitrary HTTP request)
// and template (a reference to a stored payload). Builder resolves
// templates, so a built Command is never a template.
//
// Writes to a register inside the Grid First block (1070..1088) are
// rewritten into one block write built from the cached block values with
// the requested register overlaid. If the block cannot be assembled the
// build fails; it never falls back to a single-register write.
package command
