// Package launcher starts the workload when demand arrives. It only ever
// raises the desired count from zero to one, so duplicate signals while a
// launch is underway or the server is running change nothing. With a
// lifecycle store, demand on a running workload still bumps the record's
// revision so an idle watchdog keeps the server up.
package launcher
