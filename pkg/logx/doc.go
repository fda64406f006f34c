// Package logx is divulgabot's structured logging: a value-type Logger over
// zerolog with hot-swappable sinks.
//
// Console output is human readable, the file sink writes JSON lines and the
// optional Telegram sink forwards warnings to the operators' log chat.
package logx
