// Package microsoft implements calendar.Adapter on Microsoft Graph v1.0.
//
// Requests are plain JSON over net/http against the /me/calendarView,
// /me/events and /me/calendar/getSchedule endpoints. Calendar views follow
// @odata.nextLink until the last page. Times are exchanged in UTC through the
// Prefer: outlook.timezone header.
package microsoft
