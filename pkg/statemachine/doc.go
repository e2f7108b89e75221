// Package statemachine provides a stateless, guard-aware transition table.
//
// Unlike an object that carries its current state, a Machine only answers
// "where does event E lead from state S?". This fits persisted workflows:
// the state lives in a versioned record, the record is read, Next validates
// the move, and the new state is written back with a conditional update.
//
// Transitions are declared with Builder. Several transitions may share the
// same from/event pair; they are tried in declaration order and the first
// one whose guards all pass wins. Next returns *ErrNoTransitionAvailable
// when nothing is declared and *ErrTransitionRejected when guards block
// every candidate.
package statemachine
