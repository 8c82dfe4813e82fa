// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders (rows, n-column grids, yes/no)
//   - Callback data helpers ("ns:action:payload")
//   - Paging math shared by every paginated picker
//   - A text builder that escapes for ParseMode=HTML
package tgui
