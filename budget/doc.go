// Package budget rations the population-wide broadcast capacity.
//
// The scheme follows exposure-notification practice: only a small fraction
// of the population may push risk updates per slot-day, so admissions are
// rationed by risk-change score. The engine keeps a lifetime histogram of
// admitted scores and grants a candidate slot when its score falls inside
// the top Q*W/S fraction of that distribution, where Q is the per-slot-day
// quota fraction, W the per-person cooldown in days, and S the number of
// slots per day. Burn-in and cooldown checks run first, and a hard per-day
// cap backstops the probabilistic walk.
package budget
