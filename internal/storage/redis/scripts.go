package redis

// debitScript atomically applies a token debit to a device's usage
// record hash. It fails with "not_found" when the record does not exist
// and "exceeded" when the debit would pass the limit, leaving the hash
// untouched in both cases.
//
// KEYS[1] = usage record hash
// ARGV[1] = tokens to debit
//
// Returns {used, limit} after a successful debit.
const debitScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('not_found')
end

local used = tonumber(redis.call('HGET', KEYS[1], 'used'))
local limit = tonumber(redis.call('HGET', KEYS[1], 'limit'))
local tokens = tonumber(ARGV[1])

if used + tokens > limit then
  return redis.error_reply('exceeded')
end

used = used + tokens
redis.call('HSET', KEYS[1], 'used', used)
return {used, limit}
`
