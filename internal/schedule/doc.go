// Package schedule runs the cron driven producers of the daemon.
//
// Each configured schedule enqueues one entry of its job type for every
// storage unit that has no open entry of that type. A maintenance schedule
// purges completed and failed entries once their expiration has passed.
package schedule
