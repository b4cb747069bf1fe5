// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package dispatch turns assembly stream events into cache invalidations.

	checkin_update  -> attendance, quorum
	vote_update     -> results of agenda_id
	agenda_update   -> agendas (+ results of agenda_id)
	heartbeat       -> nothing, timestamp only

Unknown events are ignored. The dispatcher never writes business state;
it only tells the cache which keys to refetch.
*/
package dispatch
