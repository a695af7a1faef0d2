// Package pool provides the fixed-size execution pool used by the dispatcher.
//
// Besides the global capacity the pool tracks a high-priority budget (stat
// and high entries) and a resource-limited budget (memory limited types).
// Both are soft limits: Submit only enforces the global capacity, and the
// dispatcher consults the budgets when choosing which tier to claim from.
package pool
