/*
The sync package implements the differential synchronization between the
remote calendar source and the local event store.

A sync runs in one of two modes:

1) Full -- Every remote event within the configured date window is fetched,
   and compared against the full set of previously synced local events. Local
   events that the remote no longer reports are deleted; the remote is
   authoritative for every synced field.
2) Differential -- Changes since the stored continuation token are fetched
   page by page. Each page carries upserts and deletion markers, and is
   applied to the store as a unit before the next page is requested. Removals
   only come from explicit deletion markers; an event a page doesn't mention
   simply wasn't changed.

The engine runs a single sync at a time per process, rejects concurrent
starts, and reports progress and the final result through a single registered
callback pair. Cancellation is cooperative: the flag is checked between
pages, so a cancelled run keeps everything already applied and leaves the
persisted sync status exactly as it was before the run.

Events that were created locally and never synced have no external ID. The
sync never touches them in either mode.
*/
package sync
