// Package agent defines the closed set of band agents, their declared
// dependencies and the handlers that run them.
//
// A [Registry] is built once at startup from [Spec] values. Construction
// rejects unknown identities, dependencies on unregistered agents and
// dependency cycles, then levelizes the graph: an agent's phase is one more
// than the highest phase among its dependencies. [Registry.Plan] partitions
// any requested subset of agents into those phases.
//
// With the built-in specs the phases are:
//
//	1: john, george, paul, gilfoyle
//	2: pete      (after john)
//	3: ringo     (after john, george, pete), marie (after john, pete)
//
// Most agents are [TemplateHandler]s: a prompt template from the prompts
// directory (or a built-in default) is filled from the agent's [Input] and
// sent through an [invoke.Invoker]. gilfoyle is native and never calls a
// model.
package agent
