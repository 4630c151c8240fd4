// Package filter provides scalar signal-conditioning blocks: a first-order
// lag, an incomplete differentiator built on it and a clamped integrator.
//
// None of them know about sensors or units; owners set dt and T once at
// bring-up and call Calculate once per tick.
package filter
